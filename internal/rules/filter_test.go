package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func annotated(id string, amount string, hour int, violations ...domain.Violation) domain.AnnotatedTransaction {
	fraud := len(violations) > 1
	tx := domain.Transaction{
		ID:               id,
		UserID:           "USER0001",
		Timestamp:        time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC),
		Amount:           decimal.RequireFromString(amount),
		Merchant:         "Amazon",
		Location:         "Chicago, IL",
		Latitude:         chiLat,
		Longitude:        chiLon,
		GroundTruthFraud: &fraud,
	}
	return domain.Annotate(tx, violations)
}

func TestNewFilter(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"Bool", "suspicious", false},
		{"Compound", `suspicious && "IMPOSSIBLE_TRAVEL" in rules`, false},
		{"Amount", "amount > 100.0 && hour < 6", false},
		{"NotBool", "risk_score + 1", true},
		{"UnknownVariable", "account_id == 'x'", true},
		{"Syntax", "amount >", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.expr)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFilter) {
					t.Errorf("expected ErrInvalidFilter, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.String() != tt.expr {
				t.Errorf("String() = %q", f.String())
			}
		})
	}
}

func TestFilterApply(t *testing.T) {
	travel := domain.Violation{RuleID: domain.RuleImpossibleTravel, Severity: domain.SeverityCritical}
	tod := domain.Violation{RuleID: domain.RuleUnusualTime, Severity: domain.SeverityMedium}

	items := []domain.AnnotatedTransaction{
		annotated("a", "50", 14),
		annotated("b", "250", 3, travel, tod),
		annotated("c", "75", 4, tod),
	}

	tests := []struct {
		expr string
		want []string
	}{
		{"suspicious", []string{"b", "c"}},
		{`"IMPOSSIBLE_TRAVEL" in rules`, []string{"b"}},
		{`"CRITICAL" in severities`, []string{"b"}},
		{"risk_score >= 1 && amount < 100.0", []string{"c"}},
		{"has_label && is_fraud", []string{"b"}},
		{"!suspicious", []string{"a"}},
		{"hour >= 12", []string{"a"}},
		{"user_id == 'USER0002'", nil},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := NewFilter(tt.expr)
			if err != nil {
				t.Fatalf("failed to compile: %v", err)
			}
			got, err := f.Apply(items)
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d matches, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("match %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}
}
