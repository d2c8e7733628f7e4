// Kestrel - Rule-based card fraud screening.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command detect screens a transaction CSV offline and writes reports.
//
// Usage:
//
//	go run ./cmd/detect -csv transactions.csv -config strict -out reports
//
// This tool:
//  1. Reads a labeled or unlabeled transaction dataset
//  2. Runs the rule engine with a preset, stored or file configuration
//  3. Writes the annotated CSV, executive summary and detailed report
//  4. Prints the confusion matrix when the dataset carries fraud labels
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/configstore"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/detection"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
)

const (
	reportFile  = "fraud_detection_report.csv"
	summaryFile = "executive_summary.txt"
	detailsFile = "detailed_report.txt"
)

func main() {
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	configName := flag.String("config", rules.PresetDefault, "Preset or stored configuration name")
	configFile := flag.String("config-file", "", "Path to a configuration JSON file (overrides -config)")
	configDir := flag.String("config-dir", "configs", "Directory of stored configurations")
	workers := flag.Int("workers", 4, "Number of users analyzed concurrently")
	filter := flag.String("filter", "", "CEL expression selecting rows for the CSV report")
	outDir := flag.String("out", "reports", "Directory reports are written to")
	flaggedOnly := flag.Bool("flagged-only", false, "Only include suspicious transactions in the CSV report")
	detailLimit := flag.Int("details", 50, "Maximum transactions in the detailed report (0 = all)")
	compare := flag.String("compare", "", "Compare two configurations, e.g. strict,lenient, and exit")
	savePresets := flag.Bool("save-presets", false, "Write the built-in presets to -config-dir and exit")
	flag.Parse()

	store, err := configstore.New(*configDir)
	if err != nil {
		fatal(err)
	}

	switch {
	case *savePresets:
		if err := store.SavePresets(); err != nil {
			fatal(err)
		}
		names, _ := store.List()
		fmt.Printf("✓ Saved presets to %s: %s\n", store.Dir, strings.Join(names, ", "))
		return
	case *compare != "":
		if err := compareConfigurations(store, *compare); err != nil {
			fatal(err)
		}
		return
	}

	if *csvPath == "" {
		fmt.Println("Usage: detect -csv transactions.csv [-config default] [-out reports]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var cfg domain.RuleConfiguration
	if *configFile != "" {
		cfg, err = configstore.LoadFile(*configFile)
	} else {
		cfg, err = store.Load(*configName)
	}
	if err != nil {
		fatal(err)
	}

	var sel *rules.Filter
	if *filter != "" {
		if sel, err = rules.NewFilter(*filter); err != nil {
			fatal(err)
		}
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL - Card Fraud Rule Screening              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:      %s\n", *csvPath)
	fmt.Printf("Configuration: %s (%d rules enabled)\n", cfg.Name, cfg.EnabledCount())
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Output:        %s\n", *outDir)
	fmt.Println()

	txs, err := dataset.ReadFile(*csvPath)
	if err != nil {
		fatal(err)
	}
	dataset.SortChronological(txs)
	fmt.Printf("✓ Loaded %d transactions\n", len(txs))

	start := time.Now()
	results, err := detection.NewProcessor(*workers).Analyze(context.Background(), txs, cfg)
	if err != nil {
		fatal(err)
	}
	duration := time.Since(start)
	metrics := stats.Summarize(results)
	fmt.Printf("✓ Flagged %d of %d transactions in %v\n", metrics.FlaggedCount, metrics.TotalTransactions, duration.Round(time.Millisecond))

	rows := results
	if sel != nil {
		if rows, err = sel.Apply(results); err != nil {
			fatal(err)
		}
		fmt.Printf("✓ Filter %q kept %d rows\n", sel, len(rows))
	}

	summary := report.Summary{
		Configuration: cfg.Name,
		GeneratedAt:   time.Now(),
		Metrics:       metrics,
	}
	if err := writeReports(*outDir, rows, results, summary, *flaggedOnly, *detailLimit); err != nil {
		fatal(err)
	}

	printResults(metrics, duration)
}

func writeReports(dir string, rows, all []domain.AnnotatedTransaction, s report.Summary, flaggedOnly bool, detailLimit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	write := func(name string, fn func(f *os.File) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote %s\n", path)
		return nil
	}

	if err := write(reportFile, func(f *os.File) error {
		return report.WriteCSV(f, rows, flaggedOnly)
	}); err != nil {
		return err
	}
	if err := write(summaryFile, func(f *os.File) error {
		return report.WriteSummary(f, s)
	}); err != nil {
		return err
	}
	return write(detailsFile, func(f *os.File) error {
		return report.WriteDetails(f, s, all, detailLimit)
	})
}

func compareConfigurations(store *configstore.Store, names string) error {
	a, b, ok := strings.Cut(names, ",")
	if !ok {
		return fmt.Errorf("-compare wants two names separated by a comma, got %q", names)
	}
	ca, err := store.Load(strings.TrimSpace(a))
	if err != nil {
		return err
	}
	cb, err := store.Load(strings.TrimSpace(b))
	if err != nil {
		return err
	}
	return configstore.WriteComparison(os.Stdout, ca, cb)
}

func printResults(m domain.Metrics, duration time.Duration) {
	fmt.Printf("\n📊 RESULTS\n")
	fmt.Printf("   Total:      %d\n", m.TotalTransactions)
	fmt.Printf("   Flagged:    %d (%.2f%%)\n", m.FlaggedCount, m.FlaggedPercentage)
	fmt.Printf("   Clean:      %d (%.2f%%)\n", m.CleanCount, m.CleanPercentage)
	fmt.Printf("   Avg Risk:   %.2f (max %d)\n", m.AverageRiskScore, m.MaxRiskScore)

	gt := m.GroundTruth
	if gt == nil {
		fmt.Println("\n   Dataset carries no fraud labels; accuracy metrics skipped.")
		fmt.Println()
		return
	}

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  SUSPICIOUS    CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", gt.TruePositives, gt.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", gt.FalsePositives, gt.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", gt.Precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", gt.Recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", gt.F1Score)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", gt.Accuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalTransactions > 0 && duration > 0 {
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalTransactions)/duration.Seconds())
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case gt.Recall >= 0.9:
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	case gt.Recall >= 0.7:
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	case gt.Recall >= 0.5:
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	default:
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}
	switch {
	case gt.Precision >= 0.5:
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	case gt.Precision >= 0.2:
		fmt.Println("   ⚠️  Low precision - many false alarms")
	default:
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}
	fmt.Println()
}

func fatal(err error) {
	fmt.Printf("ERROR: %v\n", err)
	os.Exit(1)
}
