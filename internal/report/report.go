// Package report renders detection results for people: a CSV export of
// annotated transactions and plain-text summaries.
package report

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Columns is the CSV header: the dataset columns followed by the outcome.
var Columns = append(slices.Clone(dataset.Columns), "suspicious", "risk_score", "rules", "violations")

const (
	rule = "================================================================================"
	thin = "--------------------------------------------------------------------------------"
)

// WriteCSV exports annotated transactions. With flaggedOnly set only
// suspicious ones are written.
func WriteCSV(w io.Writer, items []domain.AnnotatedTransaction, flaggedOnly bool) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}

	for i := range items {
		a := &items[i]
		if flaggedOnly && !a.Suspicious {
			continue
		}

		label := ""
		if a.GroundTruthFraud != nil {
			label = dataset.FormatLabel(*a.GroundTruthFraud)
		}
		messages := make([]string, len(a.Violations))
		for j, v := range a.Violations {
			messages[j] = fmt.Sprintf("[%s] %s", v.Severity, v.Message)
		}

		record := []string{
			a.ID,
			a.UserID,
			dataset.FormatTimestamp(a.Timestamp),
			dataset.FormatAmount(a.Amount),
			a.Merchant,
			a.Location,
			strconv.FormatFloat(a.Latitude, 'f', -1, 64),
			strconv.FormatFloat(a.Longitude, 'f', -1, 64),
			label,
			a.FraudType,
			dataset.FormatLabel(a.Suspicious),
			strconv.Itoa(a.RiskScore),
			strings.Join(a.RuleIDs(), ";"),
			strings.Join(messages, "; "),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// Summary identifies the run a text report describes.
type Summary struct {
	Configuration string
	GeneratedAt   time.Time
	Metrics       domain.Metrics
}

// WriteSummary writes the executive summary: key findings, violations per
// rule, detection quality when labels were present and recommendations.
func WriteSummary(w io.Writer, s Summary) error {
	p := &printer{w: w}
	m := s.Metrics

	p.header("FRAUD DETECTION SYSTEM - EXECUTIVE SUMMARY", s)

	p.section("KEY FINDINGS")
	p.line("• Total Transactions Analyzed: %s", humanize.Comma(int64(m.TotalTransactions)))
	p.line("• Suspicious Transactions Detected: %s (%s%%)", humanize.Comma(int64(m.FlaggedCount)), percent(m.FlaggedPercentage))
	p.line("• Clean Transactions: %s (%s%%)", humanize.Comma(int64(m.CleanCount)), percent(m.CleanPercentage))
	if m.FlaggedCount > 0 {
		p.line("• Average Risk Score: %s", percent(m.AverageRiskScore))
		p.line("• Maximum Risk Score: %d", m.MaxRiskScore)
	}

	p.section("FRAUD PATTERNS DETECTED")
	counts := byCount(m.ViolationsByRule)
	if len(counts) == 0 {
		p.line("• No violations detected")
	}
	for _, rc := range counts {
		p.line("• %s: %d violations", RuleName(rc.rule), rc.count)
	}

	if gt := m.GroundTruth; gt != nil {
		p.section("SYSTEM PERFORMANCE")
		p.line("• Actual Fraud Cases: %d", gt.ActualFraudCount)
		p.line("• Successfully Detected: %d (%.1f%% detection rate)", gt.TruePositives, gt.Recall*100)
		p.line("• Missed Fraud Cases: %d", gt.FalseNegatives)
		p.line("• False Alarms: %d", gt.FalsePositives)
		p.line("")
		p.line("System Accuracy Metrics:")
		p.line("  - Overall Accuracy: %.1f%%", gt.Accuracy*100)
		p.line("  - Precision: %.1f%%", gt.Precision*100)
		p.line("  - Recall: %.1f%%", gt.Recall*100)
		p.line("  - F1-Score: %.4f", gt.F1Score)
	}

	p.section("RECOMMENDATIONS")
	if gt := m.GroundTruth; gt != nil {
		if gt.Precision < 0.10 {
			p.line("⚠ HIGH FALSE POSITIVE RATE")
			p.line("  Consider using a more lenient configuration to reduce false alarms.")
			p.line("")
		}
		if gt.Recall < 0.80 {
			p.line("⚠ LOW FRAUD DETECTION RATE")
			p.line("  Consider using a stricter configuration to catch more fraud.")
			p.line("")
		}
		if gt.FalseNegatives > 0 {
			p.line("⚠ %d FRAUD CASES MISSED", gt.FalseNegatives)
			p.line("  Review missed cases to identify patterns not covered by current rules.")
			p.line("")
		}
	}
	p.line("✓ Review all flagged transactions in the detailed report.")
	p.line("✓ Adjust configuration thresholds based on business requirements.")
	p.line("✓ Monitor system performance over time.")
	p.line("")
	p.line(rule)

	return p.err
}

// WriteDetails lists flagged transactions, highest risk first, up to limit
// entries. A limit of zero or less lists all of them.
func WriteDetails(w io.Writer, s Summary, items []domain.AnnotatedTransaction, limit int) error {
	p := &printer{w: w}

	var flagged []*domain.AnnotatedTransaction
	for i := range items {
		if items[i].Suspicious {
			flagged = append(flagged, &items[i])
		}
	}
	slices.SortStableFunc(flagged, func(a, b *domain.AnnotatedTransaction) int {
		return cmp.Compare(b.RiskScore, a.RiskScore)
	})

	p.header("FRAUD DETECTION SYSTEM - DETAILED TRANSACTION REPORT", s)
	p.section(fmt.Sprintf("FLAGGED TRANSACTIONS: %d total", len(flagged)))

	if len(flagged) == 0 {
		p.line("No suspicious transactions detected.")
		p.line("")
	}
	if limit > 0 && len(flagged) > limit {
		p.line("Showing top %d highest risk transactions", limit)
		p.line("(Total flagged: %d)", len(flagged))
		p.line("")
		flagged = flagged[:limit]
	}

	for i, a := range flagged {
		p.line("[%d] Transaction ID: %s", i+1, a.ID)
		p.line("    User: %s", a.UserID)
		p.line("    Date/Time: %s", dataset.FormatTimestamp(a.Timestamp))
		p.line("    Amount: $%s", a.Amount.StringFixed(2))
		p.line("    Merchant: %s", a.Merchant)
		p.line("    Location: %s", a.Location)
		p.line("    Risk Score: %d", a.RiskScore)
		if a.HasGroundTruth() {
			status := "False Alarm"
			if a.IsFraud() {
				status = "ACTUAL FRAUD"
			}
			p.line("    Actual Status: %s", status)
		}
		p.line("    Violations:")
		for _, v := range a.Violations {
			p.line("      • [%s] %s", v.Severity, v.Message)
		}
		p.line("")
	}

	p.line(rule)
	p.line("END OF REPORT")
	p.line(rule)
	return p.err
}

// RuleName turns a rule identifier into a display name, e.g.
// IMPOSSIBLE_TRAVEL becomes "Impossible Travel".
func RuleName(id domain.RuleID) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(string(id)), "_", " "))
}

type ruleCount struct {
	rule  domain.RuleID
	count int
}

// byCount orders rules by descending count, ties in evaluation order.
func byCount(counts map[domain.RuleID]int) []ruleCount {
	var out []ruleCount
	for _, id := range domain.AllRuleIDs() {
		if n := counts[id]; n > 0 {
			out = append(out, ruleCount{id, n})
		}
	}
	slices.SortStableFunc(out, func(a, b ruleCount) int {
		return cmp.Compare(b.count, a.count)
	})
	return out
}

// percent drops trailing zeros the way the stored, already rounded values read.
func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// printer keeps the first write error so report bodies stay linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	if len(args) == 0 {
		_, p.err = io.WriteString(p.w, format+"\n")
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) header(heading string, s Summary) {
	p.line(rule)
	p.line(heading)
	p.line(rule)
	p.line("")
	p.line("Report Generated: %s", s.GeneratedAt.Format(dataset.TimestampLayout))
	p.line("Detection Configuration: %s", strings.ToUpper(s.Configuration))
}

func (p *printer) section(heading string) {
	p.line("")
	p.line(thin)
	p.line(heading)
	p.line(thin)
	p.line("")
}
