package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    merchant_name TEXT,
    merchant_category TEXT,
    channel TEXT,
    customer_id TEXT NOT NULL,
    account_id TEXT,
    device_id TEXT,
    ip_address TEXT,
    geo_country TEXT,
    geo_city TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS scores (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    anomaly_score REAL NOT NULL,
    reconstruction_error REAL NOT NULL,
    classifier_score REAL,
    risk_level TEXT NOT NULL,
    decision TEXT NOT NULL,
    is_anomaly INTEGER NOT NULL DEFAULT 0,
    feature_contributions TEXT NOT NULL,
    compliance_violations TEXT,
    timestamp TIMESTAMP NOT NULL,
    scored_in_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_scores_tx ON scores(tx_id);
CREATE INDEX IF NOT EXISTS idx_scores_risk ON scores(risk_level);
CREATE INDEX IF NOT EXISTS idx_scores_timestamp ON scores(timestamp);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    score_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_cases_tx ON cases(tx_id);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaScores,
		schemaCases,
		schemaRuleConfigs,
	}
}
