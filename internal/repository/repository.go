// Package repository persists transactions, rule configurations and
// detection runs in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// defaultRunLimit bounds ListRuns when the caller passes no limit.
const defaultRunLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransactions upserts a dataset in one SQL transaction. New records are
// appended after every stored one; a replaced record keeps its position.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []domain.Transaction) error {
	for i := range txs {
		if err := txs[i].Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %w", ErrInvalidInput, i, err)
		}
	}
	if len(txs) == 0 {
		return nil
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM transactions`).Scan(&seq); err != nil {
			return fmt.Errorf("read sequence: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO transactions (
				id, seq, user_id, timestamp, amount, merchant, location,
				latitude, longitude, is_fraud, fraud_type
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				timestamp = excluded.timestamp,
				amount = excluded.amount,
				merchant = excluded.merchant,
				location = excluded.location,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				is_fraud = excluded.is_fraud,
				fraud_type = excluded.fraud_type
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range txs {
			t := &txs[i]
			seq++
			if _, err := stmt.ExecContext(ctx,
				t.ID, seq, t.UserID,
				t.Timestamp.Format(time.RFC3339Nano),
				t.Amount.String(),
				t.Merchant, t.Location,
				t.Latitude, t.Longitude,
				fraudLabel(t.GroundTruthFraud), t.FraudType,
			); err != nil {
				return fmt.Errorf("insert transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

const selectTransactions = `
	SELECT id, user_id, timestamp, amount, merchant, location,
		   latitude, longitude, is_fraud, fraud_type
	FROM transactions
`

// ListTransactions returns the stored dataset in ingestion order.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, selectTransactions+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// GetTransactionsByUser returns one user's transactions in ingestion order.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(selectTransactions+` WHERE user_id = ? ORDER BY seq`), userID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var t domain.Transaction
		var ts, amount string
		var fraud sql.NullInt64

		if err := rows.Scan(
			&t.ID, &t.UserID, &ts, &amount, &t.Merchant, &t.Location,
			&t.Latitude, &t.Longitude, &fraud, &t.FraudType,
		); err != nil {
			return nil, err
		}

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad timestamp %q: %w", t.ID, ts, err)
		}
		t.Timestamp = parsed
		if err := t.Amount.Scan(amount); err != nil {
			return nil, fmt.Errorf("transaction %s: bad amount %q: %w", t.ID, amount, err)
		}
		if fraud.Valid {
			label := fraud.Int64 == 1
			t.GroundTruthFraud = &label
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SaveRuleConfiguration creates or replaces a named configuration.
func (r *SQLRepository) SaveRuleConfiguration(ctx context.Context, cfg *domain.RuleConfiguration) error {
	if cfg == nil || cfg.Name == "" {
		return fmt.Errorf("%w: configuration name is required", ErrInvalidInput)
	}

	rules, err := json.Marshal(cfg.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configurations (name, description, rules, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			rules = excluded.rules,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), cfg.Name, cfg.Description, string(rules), now, now)
	return err
}

// GetRuleConfiguration retrieves a stored configuration by name.
func (r *SQLRepository) GetRuleConfiguration(ctx context.Context, name string) (*domain.RuleConfiguration, error) {
	query := `SELECT name, description, rules FROM rule_configurations WHERE name = ?`

	var cfg domain.RuleConfiguration
	var rules string
	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(&cfg.Name, &cfg.Description, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rules), &cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules of %s: %w", name, err)
	}
	return &cfg, nil
}

// ListRuleConfigurations returns every stored configuration ordered by name.
func (r *SQLRepository) ListRuleConfigurations(ctx context.Context) ([]*domain.RuleConfiguration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, description, rules FROM rule_configurations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []*domain.RuleConfiguration{}
	for rows.Next() {
		var cfg domain.RuleConfiguration
		var rules string
		if err := rows.Scan(&cfg.Name, &cfg.Description, &rules); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rules), &cfg.Rules); err != nil {
			return nil, fmt.Errorf("failed to parse rules of %s: %w", cfg.Name, err)
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// SaveRun stores a run and all of its results atomically.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.DetectionRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	configuration, err := json.Marshal(run.Configuration)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	var precision, recall, accuracy sql.NullFloat64
	if gt := run.Metrics.GroundTruth; gt != nil {
		precision = sql.NullFloat64{Float64: gt.Precision, Valid: true}
		recall = sql.NullFloat64{Float64: gt.Recall, Valid: true}
		accuracy = sql.NullFloat64{Float64: gt.Accuracy, Valid: true}
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.rebind(`
			INSERT INTO detection_runs (
				id, configuration_name, configuration, created_at, duration_ms,
				total_transactions, flagged_count, precision_score, recall_score,
				accuracy_score, metrics
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			run.ID, run.ConfigurationName, string(configuration), run.CreatedAt.UTC(), run.DurationMs,
			run.Metrics.TotalTransactions, run.Metrics.FlaggedCount,
			precision, recall, accuracy, string(metrics),
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO detection_results (
				run_id, ordinal, transaction_id, suspicious, risk_score, violations, txn
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range run.Results {
			a := &run.Results[i]
			violations, err := json.Marshal(a.Violations)
			if err != nil {
				return fmt.Errorf("encode violations of %s: %w", a.ID, err)
			}
			txn, err := json.Marshal(a.Transaction)
			if err != nil {
				return fmt.Errorf("encode transaction %s: %w", a.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				run.ID, i, a.ID, boolInt(a.Suspicious), a.RiskScore, string(violations), string(txn),
			); err != nil {
				return fmt.Errorf("insert result %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

const selectRuns = `
	SELECT id, configuration_name, configuration, created_at, duration_ms, metrics
	FROM detection_runs
`

// GetRun retrieves a run without its results.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.DetectionRun, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectRuns+` WHERE id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first, without results.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.DetectionRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(selectRuns+` ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*domain.DetectionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.DetectionRun, error) {
	var run domain.DetectionRun
	var configuration, metrics string

	if err := row.Scan(
		&run.ID, &run.ConfigurationName, &configuration,
		&run.CreatedAt, &run.DurationMs, &metrics,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configuration), &run.Configuration); err != nil {
		return nil, fmt.Errorf("failed to parse configuration of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, fmt.Errorf("failed to parse metrics of run %s: %w", run.ID, err)
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return &run, nil
}

// GetRunResults returns a run's annotated transactions in input order.
func (r *SQLRepository) GetRunResults(ctx context.Context, runID string) ([]domain.AnnotatedTransaction, error) {
	if _, err := r.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	query := `
		SELECT suspicious, risk_score, violations, txn
		FROM detection_results
		WHERE run_id = ?
		ORDER BY ordinal
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []domain.AnnotatedTransaction{}
	for rows.Next() {
		var a domain.AnnotatedTransaction
		var suspicious int
		var violations, txn string

		if err := rows.Scan(&suspicious, &a.RiskScore, &violations, &txn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(txn), &a.Transaction); err != nil {
			return nil, fmt.Errorf("failed to parse result transaction of run %s: %w", runID, err)
		}
		if err := json.Unmarshal([]byte(violations), &a.Violations); err != nil {
			return nil, fmt.Errorf("failed to parse violations of %s: %w", a.ID, err)
		}
		if a.Violations == nil {
			a.Violations = []domain.Violation{}
		}
		a.Suspicious = suspicious == 1
		results = append(results, a)
	}
	return results, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	result := make([]byte, 0, len(query)+8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func fraudLabel(label *bool) sql.NullInt64 {
	if label == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolInt(*label)), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
