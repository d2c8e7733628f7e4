// Kestrel - Rule-based card fraud screening.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command datagen writes a seeded synthetic transaction dataset with labeled
// fraud patterns.
//
// Usage:
//
//	go run ./cmd/datagen -users 50 -seed 42 -out transactions.csv
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/generator"
)

func main() {
	opts := generator.DefaultOptions()

	users := flag.Int("users", opts.Users, "Number of card holders")
	seed := flag.Uint64("seed", opts.Seed, "Random seed")
	fraudRate := flag.Float64("fraud-users", opts.FraudUserRate, "Share of users given fraud patterns (0.0-1.0)")
	patternRate := flag.Float64("pattern-rate", opts.PatternRate, "Chance each fraud pattern is applied (0.0-1.0)")
	anchor := flag.String("now", "", "End of the 90-day history window, YYYY-MM-DD (default today)")
	out := flag.String("out", "transactions.csv", "Output CSV path")
	flag.Parse()

	if *users < 1 {
		fmt.Println("ERROR: -users must be at least 1")
		os.Exit(1)
	}

	opts.Users = *users
	opts.Seed = *seed
	opts.FraudUserRate = *fraudRate
	opts.PatternRate = *patternRate
	if *anchor != "" {
		t, err := time.Parse(time.DateOnly, *anchor)
		if err != nil {
			fmt.Printf("ERROR: invalid -now: %v\n", err)
			os.Exit(1)
		}
		opts.Now = t
	}

	txs := generator.Generate(opts)
	if err := dataset.WriteFile(*out, txs); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	b := generator.Describe(txs)
	fmt.Printf("✓ Wrote %s transactions to %s\n", humanize.Comma(int64(b.Total)), *out)
	fmt.Printf("  - Legitimate: %s\n", humanize.Comma(int64(b.Legitimate)))
	fmt.Printf("  - Fraudulent: %s\n", humanize.Comma(int64(b.Fraudulent)))

	types := make([]string, 0, len(b.ByFraudType))
	for t := range b.ByFraudType {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Printf("      %-18s %s\n", t, humanize.Comma(int64(b.ByFraudType[t])))
	}
	if len(txs) > 0 {
		first, last := txs[0].Timestamp, txs[len(txs)-1].Timestamp
		fmt.Printf("  - Span: %s to %s (%s)\n",
			first.Format(time.DateOnly), last.Format(time.DateOnly),
			strings.TrimSpace(humanize.RelTime(first, last, "", "")))
	}
}
