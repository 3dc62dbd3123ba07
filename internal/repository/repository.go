// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// ErrNotFound is returned by Get methods for absent keys.
var ErrNotFound = domain.ErrNotFound

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	*sqlStore
	db *sql.DB
}

// sqlStore implements domain.Store over a connection or a transaction.
type sqlStore struct {
	q      queryer
	driver string
}

// openTimeout bounds connecting and pinging the database at startup.
const openTimeout = 15 * time.Second

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		sqlStore: &sqlStore{q: db, driver: cfg.Driver},
		db:       db,
	}

	// Run migrations
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

// Atomic runs fn against a transaction-scoped store and commits only if fn
// succeeds.
func (r *SQLRepository) Atomic(ctx context.Context, fn func(tx domain.Store) error) error {
	// Alert ids come from a read-modify-write of system_state; postgres needs
	// serializable isolation for that to hold across nodes.
	var opts *sql.TxOptions
	if r.driver == "postgres" {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqlStore{q: tx, driver: r.driver}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTraderProfile retrieves a trader profile.
func (s *sqlStore) GetTraderProfile(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	query := `
		SELECT trader, total_trades, flagged_count, risk_score,
			   last_trade_time, is_blacklisted, reputation_score
		FROM trader_profiles
		WHERE trader = ?
	`

	var p domain.TraderProfile
	var blacklisted int

	err := s.q.QueryRowContext(ctx, s.rebind(query), trader).Scan(
		&p.Trader, &p.TotalTrades, &p.FlaggedCount, &p.RiskScore,
		&p.LastTradeTime, &blacklisted, &p.ReputationScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.IsBlacklisted = blacklisted == 1
	return &p, nil
}

// SaveTraderProfile inserts or overwrites a trader profile.
func (s *sqlStore) SaveTraderProfile(ctx context.Context, p *domain.TraderProfile) error {
	if p.Trader == "" {
		return fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO trader_profiles (
			trader, total_trades, flagged_count, risk_score, last_trade_time,
			is_blacklisted, reputation_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trader) DO UPDATE SET
			total_trades = excluded.total_trades,
			flagged_count = excluded.flagged_count,
			risk_score = excluded.risk_score,
			last_trade_time = excluded.last_trade_time,
			is_blacklisted = excluded.is_blacklisted,
			reputation_score = excluded.reputation_score,
			updated_at = excluded.updated_at
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		p.Trader, int64(p.TotalTrades), int64(p.FlaggedCount), int64(p.RiskScore),
		int64(p.LastTradeTime), boolToInt(p.IsBlacklisted), int64(p.ReputationScore),
		now, now,
	)
	return err
}

// GetAlert retrieves a fraud alert by id.
func (s *sqlStore) GetAlert(ctx context.Context, id uint64) (*domain.FraudAlert, error) {
	query := `
		SELECT id, trader, risk_score, alert_type, logical_time,
			   status, trade_volume, flagged_by_ai
		FROM fraud_alerts
		WHERE id = ?
	`

	a, err := scanAlert(s.q.QueryRowContext(ctx, s.rebind(query), int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// SaveAlert inserts an alert, or updates the status of an existing one.
// Every other column is fixed at creation.
func (s *sqlStore) SaveAlert(ctx context.Context, a *domain.FraudAlert) error {
	query := `
		INSERT INTO fraud_alerts (
			id, trader, risk_score, alert_type, logical_time,
			status, trade_volume, flagged_by_ai, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		int64(a.ID), a.Trader, int64(a.RiskScore), a.AlertType, int64(a.Timestamp),
		string(a.Status), int64(a.TradeVolume), boolToInt(a.FlaggedByAI),
		time.Now().UTC(),
	)
	return err
}

// ListAlerts returns alerts in id order, optionally filtered by trader and status.
func (s *sqlStore) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	var where []string
	var args []any

	if filter.Trader != "" {
		where = append(where, "trader = ?")
		args = append(args, filter.Trader)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `
		SELECT id, trader, risk_score, alert_type, logical_time,
			   status, trade_volume, flagged_by_ai
		FROM fraud_alerts
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// GetModelWeight retrieves one feature of the scoring model.
func (s *sqlStore) GetModelWeight(ctx context.Context, featureID string) (*domain.ModelWeight, error) {
	query := `
		SELECT feature_id, feature_name, weight, enabled, updated_at
		FROM model_weights
		WHERE feature_id = ?
	`

	w, err := scanModelWeight(s.q.QueryRowContext(ctx, s.rebind(query), featureID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// SaveModelWeight inserts or overwrites a feature.
func (s *sqlStore) SaveModelWeight(ctx context.Context, w *domain.ModelWeight) error {
	if w.FeatureID == "" {
		return fmt.Errorf("%w: featureID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO model_weights (feature_id, feature_name, weight, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(feature_id) DO UPDATE SET
			feature_name = excluded.feature_name,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	updatedAt := w.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		w.FeatureID, w.FeatureName, int64(w.Weight), boolToInt(w.Enabled), updatedAt,
	)
	return err
}

// ListModelWeights returns every feature ordered by id.
func (s *sqlStore) ListModelWeights(ctx context.Context) ([]*domain.ModelWeight, error) {
	query := `
		SELECT feature_id, feature_name, weight, enabled, updated_at
		FROM model_weights
		ORDER BY feature_id
	`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weights []*domain.ModelWeight
	for rows.Next() {
		w, err := scanModelWeight(rows)
		if err != nil {
			return nil, err
		}
		weights = append(weights, w)
	}

	return weights, rows.Err()
}

// GetAnomaly retrieves the snapshot of one trader window.
func (s *sqlStore) GetAnomaly(ctx context.Context, trader string, windowID uint64) (*domain.TradingAnomaly, error) {
	query := `
		SELECT trader, window_id, avg_trade_size, trade_frequency,
			   volatility_score, anomaly_detected
		FROM trading_anomalies
		WHERE trader = ? AND window_id = ?
	`

	a, err := scanAnomaly(s.q.QueryRowContext(ctx, s.rebind(query), trader, int64(windowID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// SaveAnomaly upserts a window snapshot.
func (s *sqlStore) SaveAnomaly(ctx context.Context, a *domain.TradingAnomaly) error {
	if a.Trader == "" {
		return fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO trading_anomalies (
			trader, window_id, avg_trade_size, trade_frequency,
			volatility_score, anomaly_detected, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trader, window_id) DO UPDATE SET
			avg_trade_size = excluded.avg_trade_size,
			trade_frequency = excluded.trade_frequency,
			volatility_score = excluded.volatility_score,
			anomaly_detected = excluded.anomaly_detected,
			recorded_at = excluded.recorded_at
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		a.Trader, int64(a.WindowID), int64(a.AvgTradeSize), int64(a.TradeFrequency),
		int64(a.VolatilityScore), boolToInt(a.AnomalyDetected), time.Now().UTC(),
	)
	return err
}

// ListAnomalies returns every recorded window for a trader, oldest first.
func (s *sqlStore) ListAnomalies(ctx context.Context, trader string) ([]*domain.TradingAnomaly, error) {
	query := `
		SELECT trader, window_id, avg_trade_size, trade_frequency,
			   volatility_score, anomaly_detected
		FROM trading_anomalies
		WHERE trader = ?
		ORDER BY window_id
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []*domain.TradingAnomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}

	return anomalies, rows.Err()
}

// GetSystemState reads the global state row.
func (s *sqlStore) GetSystemState(ctx context.Context) (*domain.SystemState, error) {
	query := `
		SELECT alert_counter, fraud_threshold, system_active, total_alerts_generated
		FROM system_state
		WHERE id = 1
	`

	var st domain.SystemState
	var active int

	err := s.q.QueryRowContext(ctx, query).Scan(
		&st.AlertCounter, &st.FraudThreshold, &active, &st.TotalAlertsGenerated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st.SystemActive = active == 1
	return &st, nil
}

// SaveSystemState overwrites the global state row.
func (s *sqlStore) SaveSystemState(ctx context.Context, st *domain.SystemState) error {
	query := `
		UPDATE system_state
		SET alert_counter = ?, fraud_threshold = ?, system_active = ?,
			total_alerts_generated = ?, updated_at = ?
		WHERE id = 1
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		int64(st.AlertCounter), int64(st.FraudThreshold), boolToInt(st.SystemActive),
		int64(st.TotalAlertsGenerated), time.Now().UTC(),
	)
	return err
}

// SaveDetectionRule stores a detection rule version.
func (r *SQLRepository) SaveDetectionRule(ctx context.Context, rule *domain.DetectionRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO detection_rules (
			id, version, name, description, expression, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Version, rule.Name, rule.Description,
		rule.Expression, boolToInt(rule.Enabled), now, now,
	)
	return err
}

// ListDetectionRules retrieves all enabled detection rules.
func (r *SQLRepository) ListDetectionRules(ctx context.Context) ([]*domain.DetectionRule, error) {
	query := `
		SELECT id, version, name, description, expression, enabled
		FROM detection_rules
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.DetectionRule
	for rows.Next() {
		var rule domain.DetectionRule
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Version, &rule.Name, &description,
			&rule.Expression, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying pool for pool statistics.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var status string
	var flagged int

	if err := row.Scan(
		&a.ID, &a.Trader, &a.RiskScore, &a.AlertType, &a.Timestamp,
		&status, &a.TradeVolume, &flagged,
	); err != nil {
		return nil, err
	}

	a.Status = domain.AlertStatus(status)
	a.FlaggedByAI = flagged == 1
	return &a, nil
}

func scanModelWeight(row rowScanner) (*domain.ModelWeight, error) {
	var w domain.ModelWeight
	var enabled int

	if err := row.Scan(&w.FeatureID, &w.FeatureName, &w.Weight, &enabled, &w.UpdatedAt); err != nil {
		return nil, err
	}

	w.Enabled = enabled == 1
	return &w, nil
}

func scanAnomaly(row rowScanner) (*domain.TradingAnomaly, error) {
	var a domain.TradingAnomaly
	var detected int

	if err := row.Scan(
		&a.Trader, &a.WindowID, &a.AvgTradeSize, &a.TradeFrequency,
		&a.VolatilityScore, &detected,
	); err != nil {
		return nil, err
	}

	a.AnomalyDetected = detected == 1
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, strconv.Itoa(n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
