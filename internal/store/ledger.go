// Package store persists the orchestrator's append-only ledgers (token
// usage, health metrics, error records, alerts) in Postgres. The durable
// cache tier lives in Redis and is owned by the cache package; this package
// is the cross-instance source of truth for monitoring history.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/circuitbreaker"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/config"
	"github.com/TheHubOfGit/Hackathon-Symbiotic-Agent-sub001/internal/models"
)

// Ledger is the Postgres-backed durable store for monitoring history.
type Ledger struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewLedger opens a pooled connection to Postgres and verifies it.
func NewLedger(cfg config.DatabaseConfig, logger *zap.Logger) (*Ledger, error) {
	raw, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	raw.SetMaxOpenConns(cfg.MaxConnections)
	raw.SetMaxIdleConns(cfg.IdleConnections)
	raw.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := raw.PingContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Ledger{
		db:     circuitbreaker.NewDatabaseWrapper(raw, logger),
		logger: logger,
	}, nil
}

// NewLedgerWithDB wraps an existing connection; used by tests with sqlmock.
func NewLedgerWithDB(db *sqlx.DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:     circuitbreaker.NewDatabaseWrapper(db, logger),
		logger: logger,
	}
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS token_usage (
			id UUID PRIMARY KEY,
			agent_id TEXT NOT NULL,
			model TEXT NOT NULL,
			tokens INTEGER NOT NULL,
			cost_usd DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS usage_snapshots (
			id UUID PRIMARY KEY,
			total_tokens INTEGER NOT NULL,
			total_cost_usd DOUBLE PRECISION NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS health_metrics (
			id UUID PRIMARY KEY,
			agent_id TEXT NOT NULL,
			alive BOOLEAN NOT NULL,
			latency_ms BIGINT NOT NULL,
			error_rate DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS error_records (
			id UUID PRIMARY KEY,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			pattern TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertTokenUsage appends one usage row.
func (l *Ledger) InsertTokenUsage(ctx context.Context, rec *models.TokenUsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO token_usage (id, agent_id, model, tokens, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.AgentID, rec.Model, rec.Tokens, rec.CostUSD, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}
	return nil
}

// TokenUsageSince returns usage rows newer than since, oldest first.
func (l *Ledger) TokenUsageSince(ctx context.Context, since time.Time) ([]models.TokenUsageRecord, error) {
	var rows []models.TokenUsageRecord
	err := l.db.SelectContext(ctx, &rows, `
		SELECT id, agent_id, model, tokens, cost_usd, created_at
		FROM token_usage
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query token usage: %w", err)
	}
	return rows, nil
}

// InsertUsageSnapshot persists one periodic usage aggregate.
func (l *Ledger) InsertUsageSnapshot(ctx context.Context, snap *models.UsageSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_snapshots (id, total_tokens, total_cost_usd, window_start, window_end)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.ID, snap.TotalTokens, snap.TotalCost, snap.WindowStart, snap.WindowEnd)
	if err != nil {
		return fmt.Errorf("insert usage snapshot: %w", err)
	}
	return nil
}

// InsertHealthMetric appends one liveness sample.
func (l *Ledger) InsertHealthMetric(ctx context.Context, m *models.HealthMetric) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO health_metrics (id, agent_id, alive, latency_ms, error_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), m.AgentID, m.Alive, m.Latency.Milliseconds(), m.ErrorRate, m.Timestamp)
	if err != nil {
		return fmt.Errorf("insert health metric: %w", err)
	}
	return nil
}

type healthMetricRow struct {
	AgentID   string    `db:"agent_id"`
	Alive     bool      `db:"alive"`
	LatencyMs int64     `db:"latency_ms"`
	ErrorRate float64   `db:"error_rate"`
	CreatedAt time.Time `db:"created_at"`
}

// HealthMetricsSince returns samples newer than since, oldest first.
func (l *Ledger) HealthMetricsSince(ctx context.Context, since time.Time) ([]models.HealthMetric, error) {
	var rows []healthMetricRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT agent_id, alive, latency_ms, error_rate, created_at
		FROM health_metrics
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query health metrics: %w", err)
	}

	out := make([]models.HealthMetric, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.HealthMetric{
			AgentID:   r.AgentID,
			Alive:     r.Alive,
			Latency:   time.Duration(r.LatencyMs) * time.Millisecond,
			ErrorRate: r.ErrorRate,
			Timestamp: r.CreatedAt,
		})
	}
	return out, nil
}

// PruneHealthMetrics deletes samples older than cutoff and returns the count.
func (l *Ledger) PruneHealthMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM health_metrics WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune health metrics: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertErrorRecord appends one failure row for audit and pattern history.
func (l *Ledger) InsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO error_records (id, message, severity, pattern, agent_id, operation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Message, rec.Severity, rec.Pattern, rec.Context.AgentID, rec.Context.Operation, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

// InsertAlert appends one advisory alert row.
func (l *Ledger) InsertAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO alerts (id, source, severity, message, agent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, alert.ID, alert.Source, alert.Severity, alert.Message, alert.AgentID, alert.Timestamp)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}
