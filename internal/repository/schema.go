package repository

// Schema definitions for the SentinelShield database.
// Compatible with both SQLite and PostgreSQL.

const schemaTraderProfiles = `
CREATE TABLE IF NOT EXISTS trader_profiles (
    trader TEXT PRIMARY KEY,
    total_trades BIGINT NOT NULL DEFAULT 0,
    flagged_count BIGINT NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 100),
    last_trade_time BIGINT NOT NULL DEFAULT 0,
    is_blacklisted INTEGER NOT NULL DEFAULT 0,
    reputation_score INTEGER NOT NULL DEFAULT 100 CHECK (reputation_score BETWEEN 0 AND 100),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trader_profiles_blacklisted ON trader_profiles(is_blacklisted);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id BIGINT PRIMARY KEY,
    trader TEXT NOT NULL,
    risk_score INTEGER NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
    alert_type TEXT NOT NULL,
    logical_time BIGINT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'investigating', 'confirmed', 'dismissed')),
    trade_volume BIGINT NOT NULL,
    flagged_by_ai INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_trader ON fraud_alerts(trader);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_status ON fraud_alerts(status);
`

const schemaModelWeights = `
CREATE TABLE IF NOT EXISTS model_weights (
    feature_id TEXT PRIMARY KEY,
    feature_name TEXT NOT NULL,
    weight INTEGER NOT NULL CHECK (weight BETWEEN 0 AND 100),
    enabled INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaTradingAnomalies = `
CREATE TABLE IF NOT EXISTS trading_anomalies (
    trader TEXT NOT NULL,
    window_id BIGINT NOT NULL,
    avg_trade_size BIGINT NOT NULL,
    trade_frequency BIGINT NOT NULL,
    volatility_score BIGINT NOT NULL,
    anomaly_detected INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (trader, window_id)
);
`

// schemaSystemState holds the single row of global counters.
// The CHECK keeps it a singleton; the seed row carries the default threshold.
const schemaSystemState = `
CREATE TABLE IF NOT EXISTS system_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    alert_counter BIGINT NOT NULL,
    fraud_threshold INTEGER NOT NULL CHECK (fraud_threshold BETWEEN 0 AND 100),
    system_active INTEGER NOT NULL,
    total_alerts_generated BIGINT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

INSERT INTO system_state (id, alert_counter, fraud_threshold, system_active, total_alerts_generated, updated_at)
VALUES (1, 0, 75, 1, 0, CURRENT_TIMESTAMP)
ON CONFLICT (id) DO NOTHING;
`

const schemaDetectionRules = `
CREATE TABLE IF NOT EXISTS detection_rules (
    id TEXT NOT NULL,
    version TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_detection_rules_enabled ON detection_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTraderProfiles,
		schemaFraudAlerts,
		schemaModelWeights,
		schemaTradingAnomalies,
		schemaSystemState,
		schemaDetectionRules,
	}
}
