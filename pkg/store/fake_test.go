package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memServer is an in-memory stand-in for the points table. Handles dialed from
// it share its rows, and it can inject transport failures.
type memServer struct {
	mu     sync.Mutex
	table  bool
	rows   map[string]int
	ids    map[string]int64
	nextID int64

	outage   atomic.Int32 // statements left to fail with a transport error
	dialDown atomic.Bool
	dials    atomic.Int32
}

func newMemServer() *memServer {
	return &memServer{rows: map[string]int{}, ids: map[string]int64{}}
}

func (s *memServer) dial(ctx context.Context) (DB, error) {
	s.dials.Add(1)
	if s.dialDown.Load() {
		return nil, errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	}
	return &memHandle{srv: s}, nil
}

func (s *memServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// memHandle is one connection to a memServer. Like a pgx pool it fails
// every call made with a done context.
type memHandle struct {
	srv    *memServer
	broken atomic.Bool
	closed atomic.Bool
}

var (
	errUndefinedTable = &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	errHandleClosed   = fmt.Errorf("use of closed handle: %w", ErrNotConnected)
)

// fault reports the transport error a statement hits. Only data statements
// consume the injected outage; schema setup during connect does not.
func (h *memHandle) fault(consume bool) error {
	if h.closed.Load() {
		return errHandleClosed
	}
	if h.broken.Load() {
		return io.ErrUnexpectedEOF
	}
	for consume {
		n := h.srv.outage.Load()
		if n <= 0 {
			return nil
		}
		if h.srv.outage.CompareAndSwap(n, n-1) {
			h.broken.Store(true)
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func (h *memHandle) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	if err := h.fault(!strings.HasPrefix(sql, "CREATE TABLE")); err != nil {
		return pgconn.CommandTag{}, err
	}
	s := h.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "CREATE TABLE"):
		s.table = true
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case strings.HasPrefix(sql, "DROP TABLE"):
		if !s.table {
			return pgconn.CommandTag{}, errUndefinedTable
		}
		s.table = false
		s.rows = map[string]int{}
		s.ids = map[string]int64{}
		return pgconn.NewCommandTag("DROP TABLE"), nil
	}

	if !s.table {
		return pgconn.CommandTag{}, errUndefinedTable
	}

	switch {
	case strings.HasPrefix(sql, "INSERT INTO"):
		points, id := args[0].(int), args[1].(string)
		if _, ok := s.rows[id]; ok {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key"}
		}
		s.nextID++
		s.rows[id] = points
		s.ids[id] = s.nextID
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "UPDATE"):
		points, id := args[0].(int), args[1].(string)
		if _, ok := s.rows[id]; !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		s.rows[id] = points
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.HasPrefix(sql, "DELETE FROM"):
		id := args[0].(string)
		if _, ok := s.rows[id]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(s.rows, id)
		delete(s.ids, id)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
}

func (h *memHandle) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := ctx.Err(); err != nil {
		return memRow{err: err}
	}
	if err := h.fault(true); err != nil {
		return memRow{err: err}
	}
	s := h.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.table {
		return memRow{err: errUndefinedTable}
	}
	id := args[0].(string)
	points, ok := s.rows[id]
	switch {
	case strings.HasPrefix(sql, "SELECT EXISTS"):
		return memRow{vals: []any{ok}}
	case strings.HasPrefix(sql, "SELECT points"):
		if !ok {
			return memRow{err: pgx.ErrNoRows}
		}
		return memRow{vals: []any{points}}
	}
	return memRow{err: fmt.Errorf("unexpected query row: %s", sql)}
}

func (h *memHandle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.fault(true); err != nil {
		return nil, err
	}
	s := h.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.table {
		return nil, errUndefinedTable
	}
	names := make([]string, 0, len(s.rows))
	for name := range s.rows {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &memRows{}
	switch {
	case strings.HasPrefix(sql, "SELECT playername"):
		for _, name := range names {
			out.rows = append(out.rows, []any{name})
		}
	case strings.HasPrefix(sql, "SELECT id, playername, points"):
		for _, name := range names {
			out.rows = append(out.rows, []any{s.ids[name], name, s.rows[name]})
		}
	default:
		return nil, fmt.Errorf("unexpected query: %s", sql)
	}
	return out, nil
}

func (h *memHandle) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.closed.Load() || h.broken.Load() {
		return errors.New("connection is dead")
	}
	return nil
}

func (h *memHandle) Close() {
	h.closed.Store(true)
}

type memRow struct {
	vals []any
	err  error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type memRows struct {
	rows [][]any
	pos  int
}

func (r *memRows) Close()                                       {}
func (r *memRows) Err() error                                   { return nil }
func (r *memRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *memRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *memRows) RawValues() [][]byte                          { return nil }
func (r *memRows) Conn() *pgx.Conn                              { return nil }

func (r *memRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *memRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

func (r *memRows) Scan(dest ...any) error {
	return assign(dest, r.rows[r.pos-1])
}

func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		case *string:
			*d = v.(string)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}
