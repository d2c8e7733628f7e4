// Package stats aggregates annotated transactions into run metrics.
package stats

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summarize computes the metrics of one run. Percentages are rounded to two
// decimals and ground-truth ratios to four. The ground-truth block is present
// only when the input is non-empty and every transaction carries a label.
func Summarize(items []domain.AnnotatedTransaction) domain.Metrics {
	m := domain.Metrics{
		TotalTransactions:     len(items),
		RiskScoreDistribution: make(map[int]int),
		ViolationsByRule:      make(map[domain.RuleID]int),
	}

	labeled := len(items) > 0
	scoreSum := 0
	for i := range items {
		a := &items[i]
		if a.Suspicious {
			m.FlaggedCount++
			scoreSum += a.RiskScore
			m.RiskScoreDistribution[a.RiskScore]++
			if a.RiskScore > m.MaxRiskScore {
				m.MaxRiskScore = a.RiskScore
			}
		}
		for _, v := range a.Violations {
			m.ViolationsByRule[v.RuleID]++
		}
		if !a.HasGroundTruth() {
			labeled = false
		}
	}
	m.CleanCount = m.TotalTransactions - m.FlaggedCount

	if m.TotalTransactions > 0 {
		flaggedPct := float64(m.FlaggedCount) / float64(m.TotalTransactions) * 100
		m.FlaggedPercentage = round(flaggedPct, 2)
		m.CleanPercentage = round(100-flaggedPct, 2)
	}
	if m.FlaggedCount > 0 {
		m.AverageRiskScore = round(float64(scoreSum)/float64(m.FlaggedCount), 2)
	}
	if labeled {
		m.GroundTruth = confusion(items)
	}

	return m
}

func confusion(items []domain.AnnotatedTransaction) *domain.GroundTruthMetrics {
	g := &domain.GroundTruthMetrics{}
	for i := range items {
		fraud := items[i].IsFraud()
		if fraud {
			g.ActualFraudCount++
		}
		switch {
		case items[i].Suspicious && fraud:
			g.TruePositives++
		case items[i].Suspicious:
			g.FalsePositives++
		case fraud:
			g.FalseNegatives++
		default:
			g.TrueNegatives++
		}
	}

	precision := ratio(g.TruePositives, g.TruePositives+g.FalsePositives)
	recall := ratio(g.TruePositives, g.TruePositives+g.FalseNegatives)
	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	g.Precision = round(precision, 4)
	g.Recall = round(recall, 4)
	g.F1Score = round(f1, 4)
	g.Accuracy = round(ratio(g.TruePositives+g.TrueNegatives, g.Total()), 4)
	return g
}

// ratio returns n/d, or 0 when d is 0.
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
