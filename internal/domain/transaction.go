package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single card transaction submitted for screening.
// Values are owned by the caller; detection only reads them.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
	Merchant  string          `json:"merchant,omitempty"`
	Location  string          `json:"location"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`

	// GroundTruthFraud is the externally supplied label. Nil when unknown.
	GroundTruthFraud *bool `json:"isFraud,omitempty"`

	// FraudType is an informational label carried by synthetic datasets.
	FraudType string `json:"fraudType,omitempty"`
}

// HasGroundTruth reports whether the transaction carries a fraud label.
func (t *Transaction) HasGroundTruth() bool {
	return t.GroundTruthFraud != nil
}

// IsFraud returns the ground-truth label, false when absent.
func (t *Transaction) IsFraud() bool {
	return t.GroundTruthFraud != nil && *t.GroundTruthFraud
}

// Validate checks the fields detection depends on.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTransaction)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: transaction %s: userId is required", ErrInvalidTransaction, t.ID)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: transaction %s: timestamp is required", ErrInvalidTransaction, t.ID)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: transaction %s: amount %s is negative", ErrInvalidTransaction, t.ID, t.Amount)
	}
	if !finite(t.Latitude) || t.Latitude < -90 || t.Latitude > 90 {
		return fmt.Errorf("%w: transaction %s: latitude %v out of range", ErrInvalidTransaction, t.ID, t.Latitude)
	}
	if !finite(t.Longitude) || t.Longitude < -180 || t.Longitude > 180 {
		return fmt.Errorf("%w: transaction %s: longitude %v out of range", ErrInvalidTransaction, t.ID, t.Longitude)
	}
	return nil
}

// ValidateTransactions validates every record of a run and the constraints
// that span records: unique IDs and non-decreasing timestamps per user.
func ValidateTransactions(txs []Transaction) error {
	seen := make(map[string]struct{}, len(txs))
	last := make(map[string]time.Time)

	for i := range txs {
		tx := &txs[i]
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := seen[tx.ID]; dup {
			return fmt.Errorf("record %d: %w: duplicate id %s", i, ErrInvalidTransaction, tx.ID)
		}
		seen[tx.ID] = struct{}{}

		if prev, ok := last[tx.UserID]; ok && tx.Timestamp.Before(prev) {
			return fmt.Errorf("record %d: %w: transaction %s for user %s is out of chronological order",
				i, ErrInvalidTransaction, tx.ID, tx.UserID)
		}
		last[tx.UserID] = tx.Timestamp
	}
	return nil
}

// AnnotatedTransaction is a transaction plus the outcome of screening it.
type AnnotatedTransaction struct {
	Transaction
	Suspicious bool        `json:"suspicious"`
	RiskScore  int         `json:"riskScore"`
	Violations []Violation `json:"violations"`
}

// Annotate attaches violations to a copy of tx.
func Annotate(tx Transaction, violations []Violation) AnnotatedTransaction {
	if violations == nil {
		violations = []Violation{}
	}
	return AnnotatedTransaction{
		Transaction: tx,
		Suspicious:  len(violations) > 0,
		RiskScore:   len(violations),
		Violations:  violations,
	}
}

// RuleIDs returns the rule identifiers of the attached violations in order.
func (a *AnnotatedTransaction) RuleIDs() []string {
	ids := make([]string, len(a.Violations))
	for i, v := range a.Violations {
		ids[i] = string(v.RuleID)
	}
	return ids
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
