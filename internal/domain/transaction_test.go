package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleTransaction(id, user string, ts time.Time) Transaction {
	return Transaction{
		ID:        id,
		UserID:    user,
		Timestamp: ts,
		Amount:    decimal.NewFromFloat(42.50),
		Location:  "Chicago, IL",
		Latitude:  41.8781,
		Longitude: -87.6298,
	}
}

func TestValidateTransactions(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		txs     func() []Transaction
		wantErr bool
	}{
		{"Valid", func() []Transaction {
			return []Transaction{
				sampleTransaction("t1", "u1", base),
				sampleTransaction("t2", "u2", base.Add(-time.Hour)),
				sampleTransaction("t3", "u1", base),
			}
		}, false},
		{"Empty", func() []Transaction { return nil }, false},
		{"MissingID", func() []Transaction {
			return []Transaction{sampleTransaction("", "u1", base)}
		}, true},
		{"MissingUser", func() []Transaction {
			return []Transaction{sampleTransaction("t1", "", base)}
		}, true},
		{"ZeroTimestamp", func() []Transaction {
			return []Transaction{sampleTransaction("t1", "u1", time.Time{})}
		}, true},
		{"NegativeAmount", func() []Transaction {
			tx := sampleTransaction("t1", "u1", base)
			tx.Amount = decimal.NewFromInt(-1)
			return []Transaction{tx}
		}, true},
		{"NaNLatitude", func() []Transaction {
			tx := sampleTransaction("t1", "u1", base)
			tx.Latitude = math.NaN()
			return []Transaction{tx}
		}, true},
		{"InfiniteLongitude", func() []Transaction {
			tx := sampleTransaction("t1", "u1", base)
			tx.Longitude = math.Inf(1)
			return []Transaction{tx}
		}, true},
		{"DuplicateID", func() []Transaction {
			return []Transaction{
				sampleTransaction("t1", "u1", base),
				sampleTransaction("t1", "u2", base),
			}
		}, true},
		{"UserOutOfOrder", func() []Transaction {
			return []Transaction{
				sampleTransaction("t1", "u1", base),
				sampleTransaction("t2", "u1", base.Add(-time.Minute)),
			}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransactions(tt.txs())
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransaction) {
					t.Errorf("expected ErrInvalidTransaction, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAnnotate(t *testing.T) {
	tx := sampleTransaction("t1", "u1", time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC))

	clean := Annotate(tx, nil)
	if clean.Suspicious || clean.RiskScore != 0 || clean.Violations == nil {
		t.Errorf("unexpected clean annotation: %+v", clean)
	}

	flagged := Annotate(tx, []Violation{
		{RuleID: RuleUnusualTime, Severity: SeverityMedium},
		{RuleID: RuleHighAmountSingle, Severity: SeverityHigh},
	})
	if !flagged.Suspicious || flagged.RiskScore != 2 {
		t.Errorf("unexpected flagged annotation: %+v", flagged)
	}
	if ids := flagged.RuleIDs(); ids[0] != "UNUSUAL_TIME" || ids[1] != "HIGH_AMOUNT_SINGLE" {
		t.Errorf("unexpected rule ids %v", ids)
	}
}
