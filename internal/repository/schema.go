package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// Transaction timestamps are stored as RFC 3339 text so the original UTC
// offset survives a round trip; seq preserves ingestion order.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    user_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    amount TEXT NOT NULL,
    merchant TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    is_fraud INTEGER,
    fraud_type TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transactions_seq ON transactions(seq);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, seq);
`

const schemaRuleConfigurations = `
CREATE TABLE IF NOT EXISTS rule_configurations (
    name TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    rules TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaDetectionRuns = `
CREATE TABLE IF NOT EXISTS detection_runs (
    id TEXT PRIMARY KEY,
    configuration_name TEXT NOT NULL,
    configuration TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL,
    total_transactions INTEGER NOT NULL,
    flagged_count INTEGER NOT NULL,
    precision_score REAL,
    recall_score REAL,
    accuracy_score REAL,
    metrics TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detection_runs_created ON detection_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_detection_runs_configuration ON detection_runs(configuration_name);
`

const schemaDetectionResults = `
CREATE TABLE IF NOT EXISTS detection_results (
    run_id TEXT NOT NULL REFERENCES detection_runs(id) ON DELETE CASCADE,
    ordinal INTEGER NOT NULL,
    transaction_id TEXT NOT NULL,
    suspicious INTEGER NOT NULL,
    risk_score INTEGER NOT NULL,
    violations TEXT NOT NULL,
    txn TEXT NOT NULL,
    PRIMARY KEY (run_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_detection_results_suspicious ON detection_results(run_id, suspicious);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRuleConfigurations,
		schemaDetectionRuns,
		schemaDetectionResults,
	}
}
