package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    user_id BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    account_age INTEGER NOT NULL DEFAULT 0
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    date TIMESTAMP NOT NULL,
    total_amount REAL NOT NULL DEFAULT 0,
    payment_method TEXT NOT NULL,
    ip_address TEXT NOT NULL,
    device_fingerprint TEXT NOT NULL,
    shipping_address_risk TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
`

const schemaItems = `
CREATE TABLE IF NOT EXISTS items (
    item_id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    name TEXT NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    category TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_transaction ON items(transaction_id);
`

const schemaReturns = `
CREATE TABLE IF NOT EXISTS returns (
    return_id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id BIGINT NOT NULL,
    item_id TEXT NOT NULL,
    return_date TIMESTAMP NOT NULL,
    reason TEXT,
    reason_category TEXT,
    refund_amount REAL NOT NULL DEFAULT 0,
    item_condition TEXT
);

CREATE INDEX IF NOT EXISTS idx_returns_user_date ON returns(user_id, return_date);
CREATE INDEX IF NOT EXISTS idx_returns_item ON returns(item_id);
`

const schemaBehaviorScores = `
CREATE TABLE IF NOT EXISTS behavior_scores (
    user_id BIGINT PRIMARY KEY,
    return_rate_90d REAL NOT NULL DEFAULT 0,
    avg_return_time_days REAL NOT NULL DEFAULT 0,
    fast_return_count INTEGER NOT NULL DEFAULT 0,
    high_value_return_count INTEGER NOT NULL DEFAULT 0,
    refund_value_ratio REAL NOT NULL DEFAULT 0,
    category_risk_score REAL NOT NULL DEFAULT 0,
    payment_risk_score REAL NOT NULL DEFAULT 0,
    engine_used TEXT NOT NULL,
    txn_count INTEGER NOT NULL DEFAULT 0,
    anomaly_score REAL NOT NULL DEFAULT 0,
    overall_risk_score REAL NOT NULL DEFAULT 0,
    reasoning TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_behavior_scores_risk ON behavior_scores(overall_risk_score);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    alert_id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL,
    date TIMESTAMP NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    primary_reason TEXT NOT NULL,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_user_status ON fraud_alerts(user_id, status);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_date ON fraud_alerts(date);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaTransactions,
		schemaItems,
		schemaReturns,
		schemaBehaviorScores,
		schemaFraudAlerts,
	}
}
