package circuitbreaker

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps the Postgres ledger connection with a circuit
// breaker. Ledger writes are advisory bookkeeping; when Postgres is down the
// pipeline keeps moving and the breaker sheds load instead of queueing it.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *Breaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with the default Postgres
// breaker settings.
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 5
	cfg.Timeout = 30 * time.Second
	return &DatabaseWrapper{
		db:     db,
		cb:     New("postgres", cfg, logger),
		logger: logger,
	}
}

// PingContext wraps PingContext with the circuit breaker.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
}

// ExecContext wraps ExecContext with the circuit breaker.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	var execErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		res, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if cbErr != nil {
		return nil, cbErr
	}
	return res, execErr
}

// GetContext wraps sqlx GetContext with the circuit breaker. sql.ErrNoRows
// is a miss, not a store failure.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var getErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		getErr = dw.db.GetContext(ctx, dest, query, args...)
		if getErr == sql.ErrNoRows {
			return nil
		}
		return getErr
	})
	if cbErr != nil && cbErr != getErr {
		return cbErr
	}
	return getErr
}

// SelectContext wraps sqlx SelectContext with the circuit breaker.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var selErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		selErr = dw.db.SelectContext(ctx, dest, query, args...)
		return selErr
	})
	if cbErr != nil && cbErr != selErr {
		return cbErr
	}
	return selErr
}

// Close closes the underlying connection pool.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// IsOpen reports whether the breaker is currently open.
func (dw *DatabaseWrapper) IsOpen() bool {
	return dw.cb.State() == StateOpen
}
