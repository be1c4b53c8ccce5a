// Package store persists per-player points balances in a single Postgres table.
//
// Every operation validates its input, executes against the connector's current
// handle and, when the failure is at the transport level, reconnects and retries
// up to RetryLimit more times before giving up with ErrUnavailable.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"playerpoints/pkg/logger"
	"playerpoints/pkg/metrics"
	"playerpoints/pkg/retry"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MaxPlayerIDLength matches the width of the playername column
const MaxPlayerIDLength = 36

// Bounds of the INTEGER points column
const (
	MinPoints = math.MinInt32
	MaxPoints = math.MaxInt32
)

// Record is one row of the points table
type Record struct {
	ID       int64  `db:"id" json:"id"`
	PlayerID string `db:"playername" json:"player"`
	Points   int    `db:"points" json:"points"`
}

// Options configures a PointsStore
type Options struct {
	Table                string
	Debug                bool
	RetryLimit           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	ConnectTimeout       time.Duration
}

type queries struct {
	create  string
	drop    string
	points  string
	exists  string
	insert  string
	update  string
	remove  string
	players string
	records string
}

func newQueries(table string) queries {
	t := pgx.Identifier{table}.Sanitize()
	return queries{
		create:  fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY, playername VARCHAR(36) NOT NULL UNIQUE, points INTEGER NOT NULL)", t),
		drop:    fmt.Sprintf("DROP TABLE %s", t),
		points:  fmt.Sprintf("SELECT points FROM %s WHERE playername = $1", t),
		exists:  fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE playername = $1)", t),
		insert:  fmt.Sprintf("INSERT INTO %s (points, playername) VALUES ($1, $2)", t),
		update:  fmt.Sprintf("UPDATE %s SET points = $1 WHERE playername = $2", t),
		remove:  fmt.Sprintf("DELETE FROM %s WHERE playername = $1", t),
		players: fmt.Sprintf("SELECT playername FROM %s", t),
		records: fmt.Sprintf("SELECT id, playername, points FROM %s ORDER BY playername", t),
	}
}

// PointsStore reads and writes player points balances
type PointsStore struct {
	conn   *Connector
	logger *logger.Logger
	opts   Options
	q      queries
}

// New creates a PointsStore and makes the first connection attempt.
// A failed attempt is logged, not returned: operations reconnect on demand.
func New(ctx context.Context, dial Dialer, opts Options, l *logger.Logger) (*PointsStore, error) {
	if opts.Table == "" {
		return nil, errors.New("store: table name is required")
	}
	if opts.RetryLimit < 0 {
		return nil, fmt.Errorf("store: retry limit %d must not be negative", opts.RetryLimit)
	}
	if opts.RetryMaxInterval < opts.RetryInitialInterval {
		opts.RetryMaxInterval = opts.RetryInitialInterval
	}

	l = l.With(zap.String("component", "store"), zap.String("table", opts.Table))
	q := newQueries(opts.Table)
	s := &PointsStore{
		conn:   NewConnector(dial, q.create, opts.ConnectTimeout, l),
		logger: l,
		opts:   opts,
		q:      q,
	}

	if s.opts.Debug {
		s.logger.Debug("constructing points store", zap.Int("retry_limit", opts.RetryLimit))
	}
	_ = s.conn.Connect(ctx)

	return s, nil
}

// GetPoints returns the balance for id. A player without an entry has 0 points,
// as does an invalid id (no query is issued for it).
func (s *PointsStore) GetPoints(ctx context.Context, id string) (int, error) {
	points, _, err := s.lookup(ctx, "get_points", id)
	return points, err
}

// LookupPoints is GetPoints that also reports whether an entry exists
func (s *PointsStore) LookupPoints(ctx context.Context, id string) (int, bool, error) {
	return s.lookup(ctx, "lookup_points", id)
}

func (s *PointsStore) lookup(ctx context.Context, op, id string) (int, bool, error) {
	if !s.validID(op, id) {
		return 0, false, nil
	}
	s.debug(op, zap.String("player", id))

	var (
		points int
		found  bool
	)
	err := s.run(ctx, op, func(db DB) error {
		points, found = 0, false
		err := db.QueryRow(ctx, s.q.points, id).Scan(&points)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	s.debug(op+" result", zap.Int("points", points), zap.Bool("found", found))
	return points, found, nil
}

// SetPoints stores points for id, creating the entry when it does not exist yet.
// Points outside [MinPoints, MaxPoints] fail with ErrPointsRange before any query.
// The existence check and the write are separate statements; an insert that loses
// a race against a concurrent insert for the same id is redone as an update.
func (s *PointsStore) SetPoints(ctx context.Context, id string, points int) (bool, error) {
	const op = "set_points"
	if !s.validID(op, id) {
		return false, nil
	}
	if points < MinPoints || points > MaxPoints {
		metrics.StoreOperationsTotal.WithLabelValues(op, metrics.ResultInvalid).Inc()
		return false, fmt.Errorf("%s: %w: %d", op, ErrPointsRange, points)
	}
	s.debug(op, zap.String("player", id), zap.Int("points", points))

	err := s.run(ctx, op, func(db DB) error {
		exists, err := s.exists(ctx, db, id)
		if err != nil {
			return err
		}
		return s.write(ctx, db, id, points, exists)
	})
	if err != nil {
		return false, err
	}

	s.debug(op+" result", zap.Bool("ok", true))
	return true, nil
}

func (s *PointsStore) write(ctx context.Context, db DB, id string, points int, exists bool) error {
	if exists {
		tag, err := db.Exec(ctx, s.q.update, points, id)
		if err != nil || tag.RowsAffected() > 0 {
			return err
		}
		// entry removed after the check
	}

	_, err := db.Exec(ctx, s.q.insert, points, id)
	if !isUniqueViolation(err) {
		return err
	}

	s.logger.Warn("insert raced with a concurrent writer, updating instead", zap.String("player", id))
	tag, err := db.Exec(ctx, s.q.update, points, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry for %q changed concurrently", ErrIntegrity, id)
	}
	return nil
}

// PlayerEntryExists reports whether id has an entry
func (s *PointsStore) PlayerEntryExists(ctx context.Context, id string) (bool, error) {
	const op = "player_entry_exists"
	if !s.validID(op, id) {
		return false, nil
	}
	s.debug(op, zap.String("player", id))

	var has bool
	err := s.run(ctx, op, func(db DB) error {
		var err error
		has, err = s.exists(ctx, db, id)
		return err
	})
	if err != nil {
		return false, err
	}

	s.debug(op+" result", zap.Bool("exists", has))
	return has, nil
}

func (s *PointsStore) exists(ctx context.Context, db DB, id string) (bool, error) {
	var has bool
	err := db.QueryRow(ctx, s.q.exists, id).Scan(&has)
	return has, err
}

// RemovePlayer deletes the entry for id. It reports true once the delete ran,
// whether or not an entry was there.
func (s *PointsStore) RemovePlayer(ctx context.Context, id string) (bool, error) {
	const op = "remove_player"
	if !s.validID(op, id) {
		return false, nil
	}
	s.debug(op, zap.String("player", id))

	var removed int64
	err := s.run(ctx, op, func(db DB) error {
		tag, err := db.Exec(ctx, s.q.remove, id)
		removed = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}

	s.debug(op+" result", zap.Int64("rows", removed))
	return true, nil
}

// GetPlayers returns every player id that has an entry
func (s *PointsStore) GetPlayers(ctx context.Context) (map[string]struct{}, error) {
	const op = "get_players"
	s.debug(op)

	var players map[string]struct{}
	err := s.run(ctx, op, func(db DB) error {
		// a retry starts over rather than merging partial results
		players = nil
		rows, err := db.Query(ctx, s.q.players)
		if err != nil {
			return err
		}
		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		players = make(map[string]struct{}, len(names))
		for _, name := range names {
			players[name] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.debug(op+" result", zap.Int("count", len(players)))
	return players, nil
}

// Records returns every entry ordered by player id
func (s *PointsStore) Records(ctx context.Context) ([]Record, error) {
	const op = "records"
	s.debug(op)

	var records []Record
	err := s.run(ctx, op, func(db DB) error {
		records = records[:0]
		rows, err := db.Query(ctx, s.q.records)
		if err != nil {
			return err
		}
		var r Record
		_, err = pgx.ForEachRow(rows, []any{&r.ID, &r.PlayerID, &r.Points}, func() error {
			records = append(records, r)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.debug(op+" result", zap.Int("count", len(records)))
	return records, nil
}

// Build creates the points table if it is missing. It is not retried.
func (s *PointsStore) Build(ctx context.Context) (bool, error) {
	return s.admin(ctx, "build", s.q.create)
}

// Destroy drops the points table and every entry in it. It is not retried.
func (s *PointsStore) Destroy(ctx context.Context) (bool, error) {
	return s.admin(ctx, "destroy", s.q.drop)
}

func (s *PointsStore) admin(ctx context.Context, op, sql string) (bool, error) {
	s.debug(op)
	start := time.Now()
	defer func() {
		metrics.StoreOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	err := s.conn.Connect(ctx)
	if err == nil {
		if db := s.conn.Handle(); db != nil {
			_, err = db.Exec(ctx, sql)
		} else {
			err = ErrNotConnected
		}
	}
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues(op, metrics.ResultError).Inc()
		s.logger.Error("schema operation failed", err, zap.String("operation", op))
		return false, fmt.Errorf("%s: %w: %w", op, ErrAdmin, err)
	}

	metrics.StoreOperationsTotal.WithLabelValues(op, metrics.ResultOK).Inc()
	s.debug(op+" result", zap.Bool("ok", true))
	return true, nil
}

// Ping probes the current connection without reconnecting
func (s *PointsStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the connection
func (s *PointsStore) Close() error {
	s.conn.Close()
	return nil
}

// run executes fn against the current handle, reconnecting between attempts
// while failures are transport failures and attempts remain.
func (s *PointsStore) run(ctx context.Context, op string, fn func(db DB) error) error {
	start := time.Now()
	opts := retry.RetryOptions{
		MaxAttempts:     s.opts.RetryLimit + 1,
		InitialInterval: s.opts.RetryInitialInterval,
		MaxInterval:     s.opts.RetryMaxInterval,
		Multiplier:      2.0,
		Classifier: func(err error) bool {
			return ctx.Err() == nil && IsTransport(err)
		},
		OnRetry: func(next int, lastErr error) {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
			s.logger.Warn("transport failure, reconnecting",
				zap.String("operation", op),
				zap.Int("attempt", next),
				zap.Error(lastErr))
			_ = s.conn.Connect(ctx)
		},
	}

	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		db := s.conn.Handle()
		if db == nil && attempt == 1 {
			// no handle since construction or the last failed reconnect
			_ = s.conn.Connect(ctx)
			db = s.conn.Handle()
		}
		if db == nil {
			return ErrNotConnected
		}
		return fn(db)
	}, opts)
	metrics.StoreOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		err = translate(ctx, op, err)
		result := metrics.ResultError
		if errors.Is(err, ErrUnavailable) {
			result = metrics.ResultUnavailable
		}
		metrics.StoreOperationsTotal.WithLabelValues(op, result).Inc()
		s.logger.Error("points store operation failed", err, zap.String("operation", op))
		return err
	}

	metrics.StoreOperationsTotal.WithLabelValues(op, metrics.ResultOK).Inc()
	return nil
}

func (s *PointsStore) validID(op, id string) bool {
	if id != "" && utf8.RuneCountInString(id) <= MaxPlayerIDLength {
		return true
	}
	metrics.StoreOperationsTotal.WithLabelValues(op, metrics.ResultInvalid).Inc()
	s.debug(op+" rejected invalid player id", zap.Int("length", len(id)))
	return false
}

func (s *PointsStore) debug(msg string, fields ...zap.Field) {
	if s.opts.Debug {
		s.logger.Debug(msg, fields...)
	}
}
