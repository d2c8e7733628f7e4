package rules

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

const (
	// MinElapsedHours floors the time between two transactions (36 seconds).
	MinElapsedHours = 0.01

	// MinTravelDistanceMiles is the distance at or below which travel is never flagged.
	MinTravelDistanceMiles = 50.0
)

// frequencyEvaluator flags a user exceeding MaxTransactions inside the window
// ending at the current transaction. The window counts the transaction itself.
type frequencyEvaluator struct {
	rule domain.FrequencyRule
}

func (e *frequencyEvaluator) Name() string { return "frequency" }

func (e *frequencyEvaluator) Evaluate(idx *velocity.Index, pos int) (domain.Violation, bool) {
	tx := idx.At(pos)
	count := idx.WindowCount(tx.UserID, tx.Timestamp, e.rule.Window())
	if count <= e.rule.MaxTransactions {
		return domain.Violation{}, false
	}

	return domain.Violation{
		RuleID:   domain.RuleHighFrequency,
		Severity: domain.SeverityHigh,
		Message: fmt.Sprintf("%d transactions in %d minutes (max allowed: %d)",
			count, e.rule.TimeWindowMinutes, e.rule.MaxTransactions),
		Details: map[string]any{
			"transactionCount":  count,
			"timeWindowMinutes": e.rule.TimeWindowMinutes,
			"threshold":         e.rule.MaxTransactions,
		},
	}, true
}

// amountEvaluator reports at most one violation: the single-transaction limit
// wins over the daily cumulative limit.
type amountEvaluator struct {
	rule domain.AmountRule
}

func (e *amountEvaluator) Name() string { return "amount" }

func (e *amountEvaluator) Evaluate(idx *velocity.Index, pos int) (domain.Violation, bool) {
	tx := idx.At(pos)

	if limit := e.rule.SingleTransactionLimit; tx.Amount.GreaterThan(limit) {
		return domain.Violation{
			RuleID:   domain.RuleHighAmountSingle,
			Severity: domain.SeverityHigh,
			Message: fmt.Sprintf("Transaction amount $%s exceeds single transaction limit of $%s",
				tx.Amount.StringFixed(2), limit.StringFixed(2)),
			Details: map[string]any{
				"amount":    tx.Amount,
				"threshold": limit,
				"excess":    tx.Amount.Sub(limit),
			},
		}, true
	}

	total, count := idx.DailyTotal(tx.UserID, tx.Timestamp)
	if limit := e.rule.DailyCumulativeLimit; total.GreaterThan(limit) {
		return domain.Violation{
			RuleID:   domain.RuleHighAmountCumulative,
			Severity: domain.SeverityMedium,
			Message: fmt.Sprintf("Daily spending $%s exceeds daily limit of $%s",
				total.StringFixed(2), limit.StringFixed(2)),
			Details: map[string]any{
				"dailyTotal":       total,
				"threshold":        limit,
				"transactionCount": count,
				"excess":           total.Sub(limit),
			},
		}, true
	}

	return domain.Violation{}, false
}

// travelEvaluator compares a transaction with the same user's previous one.
type travelEvaluator struct {
	rule domain.TravelRule
}

func (e *travelEvaluator) Name() string { return "travel" }

func (e *travelEvaluator) Evaluate(idx *velocity.Index, pos int) (domain.Violation, bool) {
	tx := idx.At(pos)
	prev, ok := idx.Previous(tx.UserID, pos)
	if !ok {
		return domain.Violation{}, false
	}

	distance := geo.Distance(prev.Latitude, prev.Longitude, tx.Latitude, tx.Longitude)
	elapsed := math.Max(MinElapsedHours, tx.Timestamp.Sub(prev.Timestamp).Hours())
	speed := distance / elapsed

	if speed <= e.rule.MaxSpeedMPH || distance <= MinTravelDistanceMiles {
		return domain.Violation{}, false
	}

	return domain.Violation{
		RuleID:   domain.RuleImpossibleTravel,
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("Impossible travel: %.0f miles in %.2f hours (speed: %.0f mph, max allowed: %g mph)",
			distance, elapsed, speed, e.rule.MaxSpeedMPH),
		Details: map[string]any{
			"distanceMiles":         distance,
			"timeHours":             elapsed,
			"requiredSpeedMph":      speed,
			"maxSpeedMph":           e.rule.MaxSpeedMPH,
			"previousTransactionId": prev.ID,
			"previousLocation":      prev.Location,
			"currentLocation":       tx.Location,
		},
	}, true
}

// timeEvaluator flags transactions inside the unusual-hours window, read in
// the timestamp's own location.
type timeEvaluator struct {
	rule domain.TimeRule
}

func (e *timeEvaluator) Name() string { return "time" }

func (e *timeEvaluator) Evaluate(idx *velocity.Index, pos int) (domain.Violation, bool) {
	hour := idx.At(pos).Timestamp.Hour()
	if !e.rule.Contains(hour) {
		return domain.Violation{}, false
	}

	return domain.Violation{
		RuleID:   domain.RuleUnusualTime,
		Severity: domain.SeverityMedium,
		Message: fmt.Sprintf("Transaction at unusual hour: %d:00 (unusual hours: %d:00 - %d:00)",
			hour, e.rule.UnusualHoursStart, e.rule.UnusualHoursEnd),
		Details: map[string]any{
			"transactionHour": hour,
			"unusualStart":    e.rule.UnusualHoursStart,
			"unusualEnd":      e.rule.UnusualHoursEnd,
		},
	}, true
}
