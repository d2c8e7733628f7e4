package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// RuleID identifies the kind of violation a rule produced.
type RuleID string

const (
	RuleHighFrequency        RuleID = "HIGH_FREQUENCY"
	RuleHighAmountSingle     RuleID = "HIGH_AMOUNT_SINGLE"
	RuleHighAmountCumulative RuleID = "HIGH_AMOUNT_CUMULATIVE"
	RuleImpossibleTravel     RuleID = "IMPOSSIBLE_TRAVEL"
	RuleUnusualTime          RuleID = "UNUSUAL_TIME"
)

// AllRuleIDs lists every rule identifier in evaluation order.
func AllRuleIDs() []RuleID {
	return []RuleID{
		RuleHighFrequency,
		RuleHighAmountSingle,
		RuleHighAmountCumulative,
		RuleImpossibleTravel,
		RuleUnusualTime,
	}
}

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Violation is evidence that one transaction exceeded one rule threshold.
type Violation struct {
	RuleID   RuleID         `json:"rule"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details"`
}

// RuleConfiguration is a named set of thresholds for the four rules.
type RuleConfiguration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Rules       RuleSet `json:"rules"`
}

// RuleSet holds one sub-configuration per rule.
type RuleSet struct {
	Frequency FrequencyRule `json:"frequency"`
	Amount    AmountRule    `json:"amount"`
	Travel    TravelRule    `json:"travel"`
	Time      TimeRule      `json:"time"`
}

// FrequencyRule flags bursts of transactions from one user.
type FrequencyRule struct {
	Enabled           bool   `json:"enabled"`
	MaxTransactions   int    `json:"maxTransactions"`
	TimeWindowMinutes int    `json:"timeWindowMinutes"`
	Description       string `json:"description,omitempty"`
}

// Window returns the look-back window as a duration.
func (r FrequencyRule) Window() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

// AmountRule flags large single transactions and large daily spend.
type AmountRule struct {
	Enabled                bool            `json:"enabled"`
	SingleTransactionLimit decimal.Decimal `json:"singleTransactionLimit"`
	DailyCumulativeLimit   decimal.Decimal `json:"dailyCumulativeLimit"`
	Description            string          `json:"description,omitempty"`
}

// TravelRule flags consecutive transactions too far apart for the elapsed time.
type TravelRule struct {
	Enabled     bool    `json:"enabled"`
	MaxSpeedMPH float64 `json:"maxSpeedMph"`
	Description string  `json:"description,omitempty"`
}

// TimeRule flags transactions made during unusual hours.
type TimeRule struct {
	Enabled           bool   `json:"enabled"`
	UnusualHoursStart int    `json:"unusualHoursStart"`
	UnusualHoursEnd   int    `json:"unusualHoursEnd"`
	Description       string `json:"description,omitempty"`
}

// Contains reports whether hour falls inside the unusual window, both ends
// inclusive. A start later than the end describes a window across midnight.
func (r TimeRule) Contains(hour int) bool {
	if r.UnusualHoursStart <= r.UnusualHoursEnd {
		return hour >= r.UnusualHoursStart && hour <= r.UnusualHoursEnd
	}
	return hour >= r.UnusualHoursStart || hour <= r.UnusualHoursEnd
}

// MaxTimeWindowMinutes caps the frequency window at one leap year so the
// window always fits in a time.Duration.
const MaxTimeWindowMinutes = 366 * 24 * 60

// Validate checks the thresholds of every rule, enabled or not, so a
// configuration stays valid when a rule is switched on later.
func (c *RuleConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfiguration)
	}

	r := c.Rules
	if r.Frequency.MaxTransactions <= 0 {
		return fmt.Errorf("%w: %s: frequency.maxTransactions must be positive, got %d",
			ErrInvalidConfiguration, c.Name, r.Frequency.MaxTransactions)
	}
	if r.Frequency.TimeWindowMinutes <= 0 || r.Frequency.TimeWindowMinutes > MaxTimeWindowMinutes {
		return fmt.Errorf("%w: %s: frequency.timeWindowMinutes must be within 1-%d, got %d",
			ErrInvalidConfiguration, c.Name, MaxTimeWindowMinutes, r.Frequency.TimeWindowMinutes)
	}
	if !r.Amount.SingleTransactionLimit.IsPositive() {
		return fmt.Errorf("%w: %s: amount.singleTransactionLimit must be positive, got %s",
			ErrInvalidConfiguration, c.Name, r.Amount.SingleTransactionLimit)
	}
	if !r.Amount.DailyCumulativeLimit.IsPositive() {
		return fmt.Errorf("%w: %s: amount.dailyCumulativeLimit must be positive, got %s",
			ErrInvalidConfiguration, c.Name, r.Amount.DailyCumulativeLimit)
	}
	if !(r.Travel.MaxSpeedMPH > 0) || math.IsInf(r.Travel.MaxSpeedMPH, 1) {
		return fmt.Errorf("%w: %s: travel.maxSpeedMph must be positive and finite, got %v",
			ErrInvalidConfiguration, c.Name, r.Travel.MaxSpeedMPH)
	}
	if !validHour(r.Time.UnusualHoursStart) {
		return fmt.Errorf("%w: %s: time.unusualHoursStart must be within 0-23, got %d",
			ErrInvalidConfiguration, c.Name, r.Time.UnusualHoursStart)
	}
	if !validHour(r.Time.UnusualHoursEnd) {
		return fmt.Errorf("%w: %s: time.unusualHoursEnd must be within 0-23, got %d",
			ErrInvalidConfiguration, c.Name, r.Time.UnusualHoursEnd)
	}
	return nil
}

// EnabledCount returns how many of the four rules are switched on.
func (c *RuleConfiguration) EnabledCount() int {
	n := 0
	for _, on := range []bool{c.Rules.Frequency.Enabled, c.Rules.Amount.Enabled, c.Rules.Travel.Enabled, c.Rules.Time.Enabled} {
		if on {
			n++
		}
	}
	return n
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

// ruleSetSections are the sub-configurations a serialized RuleSet must carry.
var ruleSetSections = []string{"frequency", "amount", "travel", "time"}

// UnmarshalJSON decodes a RuleSet and rejects documents that omit a rule
// section or its enabled flag, so a missing toggle never defaults silently.
func (s *RuleSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, section := range ruleSetSections {
		body, ok := raw[section]
		if !ok {
			return fmt.Errorf("%w: rules.%s is required", ErrInvalidConfiguration, section)
		}
		var toggle struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(body, &toggle); err != nil {
			return fmt.Errorf("%w: rules.%s: %v", ErrInvalidConfiguration, section, err)
		}
		if toggle.Enabled == nil {
			return fmt.Errorf("%w: rules.%s.enabled is required", ErrInvalidConfiguration, section)
		}
	}

	type plain RuleSet
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	*s = RuleSet(decoded)
	return nil
}
