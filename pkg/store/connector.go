package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"playerpoints/pkg/logger"
	"playerpoints/pkg/metrics"

	"go.uber.org/zap"
)

const defaultConnectTimeout = 5 * time.Second

// Connector owns the single live handle a PointsStore works with.
// Statements read the handle concurrently; only (re)connecting is serialized.
type Connector struct {
	dial     Dialer
	schema   string
	timeout  time.Duration
	logger   *logger.Logger
	reconnMu sync.Mutex

	mu sync.RWMutex
	db DB
}

// NewConnector creates a Connector. Nothing is dialed until Connect.
// schemaSQL is executed on every fresh handle before it is published.
func NewConnector(dial Dialer, schemaSQL string, timeout time.Duration, l *logger.Logger) *Connector {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &Connector{
		dial:    dial,
		schema:  schemaSQL,
		timeout: timeout,
		logger:  l,
	}
}

// Handle returns the current handle or nil
func (c *Connector) Handle() DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func (c *Connector) swap(db DB) DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.db
	c.db = db
	return old
}

// Connect makes sure a live handle is held. A healthy handle is left alone;
// an unusable one is closed and replaced. Failures are logged and leave the
// handle nil, so callers find out when their next statement fails.
// A done ctx returns its error and never touches the current handle.
func (c *Connector) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()

	if db := c.Handle(); db != nil {
		err := c.probe(ctx, db)
		if err == nil {
			return nil
		}
		// the caller gave up, which says nothing about the shared handle
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("connection liveness probe failed, replacing handle", zap.Error(err))
		c.swap(nil)
		db.Close()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	db, err := c.dial(dialCtx)
	if err != nil {
		metrics.StoreReconnectsTotal.WithLabelValues(metrics.ResultError).Inc()
		c.logger.Error("failed to connect to database", err)
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	if _, err := db.Exec(dialCtx, c.schema); err != nil {
		metrics.StoreReconnectsTotal.WithLabelValues(metrics.ResultError).Inc()
		c.logger.Error("failed to ensure points table", err)
		db.Close()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	c.swap(db)
	metrics.StoreReconnectsTotal.WithLabelValues(metrics.ResultOK).Inc()
	c.logger.Info("database connection established")
	return nil
}

// Ping probes the current handle
func (c *Connector) Ping(ctx context.Context) error {
	db := c.Handle()
	if db == nil {
		return ErrNotConnected
	}
	return c.probe(ctx, db)
}

func (c *Connector) probe(ctx context.Context, db DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return db.Ping(pingCtx)
}

// Close releases the handle. The connector can be reconnected afterwards.
func (c *Connector) Close() {
	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()

	if db := c.swap(nil); db != nil {
		db.Close()
	}
}
