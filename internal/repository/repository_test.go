package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testTransactions() []domain.Transaction {
	fraud, clean := true, false
	est := time.FixedZone("EST", -5*3600)
	return []domain.Transaction{
		{
			ID: "TXN000001", UserID: "USER0001",
			Timestamp: time.Date(2024, 1, 15, 9, 30, 0, 0, est),
			Amount:    decimal.RequireFromString("125.50"),
			Merchant:  "Starbucks", Location: "New York, NY",
			Latitude: 40.7128, Longitude: -74.0060,
			GroundTruthFraud: &clean,
		},
		{
			ID: "TXN000002", UserID: "USER0002",
			Timestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			Amount:    decimal.RequireFromString("4200"),
			Merchant:  "Best Buy", Location: "Chicago, IL",
			Latitude: 41.8781, Longitude: -87.6298,
			GroundTruthFraud: &fraud, FraudType: "high_amount",
		},
		{
			ID: "TXN000003", UserID: "USER0001",
			Timestamp: time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC),
			Amount:    decimal.RequireFromString("0.99"),
			Location:  "New York, NY",
			Latitude:  40.7128, Longitude: -74.0060,
		},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndListTransactions", func(t *testing.T) {
		txs := testTransactions()
		if err := repo.SaveTransactions(ctx, txs); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		got, err := repo.ListTransactions(ctx)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(got) != len(txs) {
			t.Fatalf("expected %d transactions, got %d", len(txs), len(got))
		}
		for i := range txs {
			if got[i].ID != txs[i].ID {
				t.Errorf("position %d: expected %s, got %s", i, txs[i].ID, got[i].ID)
			}
			if !got[i].Amount.Equal(txs[i].Amount) {
				t.Errorf("%s: amount %s != %s", txs[i].ID, got[i].Amount, txs[i].Amount)
			}
			if !got[i].Timestamp.Equal(txs[i].Timestamp) {
				t.Errorf("%s: timestamp %v != %v", txs[i].ID, got[i].Timestamp, txs[i].Timestamp)
			}
		}

		if got[0].Timestamp.Hour() != 9 {
			t.Errorf("expected local hour 9 to survive storage, got %d", got[0].Timestamp.Hour())
		}
		if !got[1].IsFraud() || got[1].FraudType != "high_amount" {
			t.Errorf("expected fraud label on TXN000002, got %+v", got[1])
		}
		if got[0].GroundTruthFraud == nil || *got[0].GroundTruthFraud {
			t.Error("expected explicit non-fraud label on TXN000001")
		}
		if got[2].HasGroundTruth() {
			t.Error("expected TXN000003 to stay unlabeled")
		}
	})

	t.Run("UpsertKeepsOrder", func(t *testing.T) {
		update := testTransactions()[:1]
		update[0].Amount = decimal.NewFromInt(130)
		extra := domain.Transaction{
			ID: "TXN000004", UserID: "USER0003",
			Timestamp: time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC),
			Amount:    decimal.NewFromInt(10), Latitude: 1, Longitude: 1,
		}
		if err := repo.SaveTransactions(ctx, append(update, extra)); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		got, _ := repo.ListTransactions(ctx)
		if len(got) != 4 {
			t.Fatalf("expected 4 transactions, got %d", len(got))
		}
		if got[0].ID != "TXN000001" || got[0].Amount.IntPart() != 130 {
			t.Errorf("expected updated TXN000001 first, got %s %s", got[0].ID, got[0].Amount)
		}
		if got[3].ID != "TXN000004" {
			t.Errorf("expected new record last, got %s", got[3].ID)
		}
	})

	t.Run("GetTransactionsByUser", func(t *testing.T) {
		got, err := repo.GetTransactionsByUser(ctx, "USER0001")
		if err != nil {
			t.Fatalf("GetTransactionsByUser failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "TXN000001" || got[1].ID != "TXN000003" {
			t.Errorf("unexpected user history %v", got)
		}

		none, err := repo.GetTransactionsByUser(ctx, "USER9999")
		if err != nil || len(none) != 0 {
			t.Errorf("expected empty history, got %v, %v", none, err)
		}
	})

	t.Run("RejectsInvalidTransaction", func(t *testing.T) {
		bad := testTransactions()[:1]
		bad[0].UserID = ""
		err := repo.SaveTransactions(ctx, bad)
		if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidInput wrapping ErrInvalidTransaction, got %v", err)
		}
	})
}

func TestRuleConfigurations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := &domain.RuleConfiguration{
		Name:        "night-shift",
		Description: "Tight overnight window",
		Rules: domain.RuleSet{
			Frequency: domain.FrequencyRule{Enabled: true, MaxTransactions: 4, TimeWindowMinutes: 15},
			Amount: domain.AmountRule{
				Enabled:                true,
				SingleTransactionLimit: decimal.NewFromInt(750),
				DailyCumulativeLimit:   decimal.NewFromInt(2500),
			},
			Travel: domain.TravelRule{Enabled: false, MaxSpeedMPH: 500},
			Time:   domain.TimeRule{Enabled: true, UnusualHoursStart: 22, UnusualHoursEnd: 4},
		},
	}

	if err := repo.SaveRuleConfiguration(ctx, cfg); err != nil {
		t.Fatalf("SaveRuleConfiguration failed: %v", err)
	}

	got, err := repo.GetRuleConfiguration(ctx, "night-shift")
	if err != nil {
		t.Fatalf("GetRuleConfiguration failed: %v", err)
	}
	if got.Description != cfg.Description || got.Rules.Time.UnusualHoursStart != 22 {
		t.Errorf("unexpected configuration %+v", got)
	}
	if !got.Rules.Amount.SingleTransactionLimit.Equal(decimal.NewFromInt(750)) {
		t.Errorf("unexpected single limit %s", got.Rules.Amount.SingleTransactionLimit)
	}
	if got.Rules.Travel.Enabled {
		t.Error("travel should stay disabled")
	}

	cfg.Description = "Updated"
	if err := repo.SaveRuleConfiguration(ctx, cfg); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	_ = repo.SaveRuleConfiguration(ctx, &domain.RuleConfiguration{Name: "alpha", Rules: cfg.Rules})

	list, err := repo.ListRuleConfigurations(ctx)
	if err != nil {
		t.Fatalf("ListRuleConfigurations failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Description != "Updated" {
		t.Errorf("unexpected list %+v", list)
	}

	if _, err := repo.GetRuleConfiguration(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.SaveRuleConfiguration(ctx, &domain.RuleConfiguration{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	txs := testTransactions()
	violation := domain.Violation{
		RuleID:   domain.RuleHighAmountSingle,
		Severity: domain.SeverityHigh,
		Message:  "Transaction amount $4200.00 exceeds single transaction limit of $1000.00",
		Details:  map[string]any{"amount": "4200"},
	}
	results := []domain.AnnotatedTransaction{
		domain.Annotate(txs[0], nil),
		domain.Annotate(txs[1], []domain.Violation{violation}),
		domain.Annotate(txs[2], nil),
	}

	base := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	run := &domain.DetectionRun{
		ID:                "run-001",
		ConfigurationName: "default",
		Configuration:     domain.RuleConfiguration{Name: "default"},
		CreatedAt:         base,
		DurationMs:        42,
		Metrics: domain.Metrics{
			TotalTransactions: 3,
			FlaggedCount:      1,
			ViolationsByRule:  map[domain.RuleID]int{domain.RuleHighAmountSingle: 1},
			GroundTruth:       &domain.GroundTruthMetrics{TruePositives: 1, Precision: 1, Recall: 1, Accuracy: 1},
		},
		Results: results,
	}

	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	t.Run("GetRun", func(t *testing.T) {
		got, err := repo.GetRun(ctx, "run-001")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.ConfigurationName != "default" || got.DurationMs != 42 {
			t.Errorf("unexpected run %+v", got)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("created_at %v != %v", got.CreatedAt, base)
		}
		if got.Metrics.FlaggedCount != 1 || got.Metrics.GroundTruth == nil {
			t.Errorf("metrics not restored: %+v", got.Metrics)
		}
		if got.Results != nil {
			t.Error("GetRun should not load results")
		}
	})

	t.Run("GetRunResults", func(t *testing.T) {
		got, err := repo.GetRunResults(ctx, "run-001")
		if err != nil {
			t.Fatalf("GetRunResults failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 results, got %d", len(got))
		}
		if got[1].ID != "TXN000002" || !got[1].Suspicious || got[1].RiskScore != 1 {
			t.Errorf("unexpected flagged result %+v", got[1])
		}
		if got[1].Violations[0].RuleID != domain.RuleHighAmountSingle {
			t.Errorf("violation not restored: %+v", got[1].Violations)
		}
		if got[0].Violations == nil || len(got[0].Violations) != 0 {
			t.Error("clean results should carry an empty violation list")
		}
		if got[0].Timestamp.Hour() != 9 {
			t.Errorf("expected local hour to survive, got %d", got[0].Timestamp.Hour())
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		later := *run
		later.ID = "run-002"
		later.CreatedAt = base.Add(time.Hour)
		later.Results = nil
		later.Metrics.GroundTruth = nil
		if err := repo.SaveRun(ctx, &later); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		runs, err := repo.ListRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "run-002" || runs[1].ID != "run-001" {
			t.Errorf("expected newest first, got %v", runs)
		}

		limited, _ := repo.ListRuns(ctx, 1)
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("DuplicateRunRollsBack", func(t *testing.T) {
		if err := repo.SaveRun(ctx, run); err == nil {
			t.Fatal("expected duplicate run id to fail")
		}
		got, _ := repo.GetRunResults(ctx, "run-001")
		if len(got) != 3 {
			t.Errorf("failed save must not add results, got %d", len(got))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.GetRunResults(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	defer repo.Close()

	if err := repo.SaveTransactions(context.Background(), testTransactions()); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}
	got, _ := repo.ListTransactions(context.Background())
	if len(got) != 3 {
		t.Errorf("expected 3 transactions, got %d", len(got))
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3" {
		t.Errorf("unexpected rebind %q", got)
	}

	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite queries should be unchanged, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.RepositoryConfig
		want string
	}{
		{
			name: "Defaults",
			cfg:  domain.RepositoryConfig{},
			want: "host=localhost port=5432 dbname=kestrel sslmode=disable",
		},
		{
			name: "Credentials",
			cfg: domain.RepositoryConfig{
				PostgresHost: "db", PostgresPort: 6543, PostgresDB: "fraud",
				PostgresUser: "kestrel", PostgresPassword: "it's secret", PostgresSSLMode: "require",
			},
			want: `host=db port=6543 dbname=fraud sslmode=require user=kestrel password='it\'s secret'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := postgresDSN(tt.cfg); got != tt.want {
				t.Errorf("postgresDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}
