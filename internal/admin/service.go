package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"

	"playerpoints/pkg/logger"
	"playerpoints/pkg/metrics"
	"playerpoints/pkg/parser"
	"playerpoints/pkg/store"
	"playerpoints/pkg/worker"

	"go.uber.org/zap"
)

// ErrRejected is returned when the store refuses an identifier
var ErrRejected = errors.New("admin: player id rejected")

// Store is the points store surface the admin commands need
type Store interface {
	LookupPoints(ctx context.Context, id string) (int, bool, error)
	SetPoints(ctx context.Context, id string, points int) (bool, error)
	PlayerEntryExists(ctx context.Context, id string) (bool, error)
	RemovePlayer(ctx context.Context, id string) (bool, error)
	GetPlayers(ctx context.Context) (map[string]struct{}, error)
	Records(ctx context.Context) ([]store.Record, error)
	Build(ctx context.Context) (bool, error)
	Destroy(ctx context.Context) (bool, error)
}

// Service runs admin commands against the store and renders their results
type Service struct {
	logger *logger.Logger
	store  Store
	out    io.Writer
	asJSON bool
}

// NewService creates a new admin service instance
func NewService(l *logger.Logger, s Store, out io.Writer, asJSON bool) *Service {
	return &Service{
		logger: l,
		store:  s,
		out:    out,
		asJSON: asJSON,
	}
}

type lookupResult struct {
	Player string `json:"player"`
	Points int    `json:"points"`
	Found  bool   `json:"found"`
}

// Get prints the balance of one player
func (s *Service) Get(ctx context.Context, id string) error {
	points, found, err := s.store.LookupPoints(ctx, id)
	if err != nil {
		return err
	}
	if s.asJSON {
		return s.encode(lookupResult{Player: id, Points: points, Found: found})
	}
	if !found {
		_, err = fmt.Fprintf(s.out, "%s has no entry\n", id)
		return err
	}
	_, err = fmt.Fprintf(s.out, "%s\t%d\n", id, points)
	return err
}

// Set writes the balance of one player
func (s *Service) Set(ctx context.Context, id string, points int) error {
	ok, err := s.store.SetPoints(ctx, id, points)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrRejected, id)
	}
	s.logger.Info("points set", zap.String("player", id), zap.Int("points", points))
	return nil
}

// Has prints whether the player has a row
func (s *Service) Has(ctx context.Context, id string) error {
	exists, err := s.store.PlayerEntryExists(ctx, id)
	if err != nil {
		return err
	}
	if s.asJSON {
		return s.encode(map[string]bool{"exists": exists})
	}
	_, err = fmt.Fprintln(s.out, exists)
	return err
}

// Remove deletes the row of one player
func (s *Service) Remove(ctx context.Context, id string) error {
	ok, err := s.store.RemovePlayer(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrRejected, id)
	}
	s.logger.Info("player removed", zap.String("player", id))
	return nil
}

// Players prints every known player id in sorted order
func (s *Service) Players(ctx context.Context) error {
	players, err := s.store.GetPlayers(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(players))
	for name := range players {
		names = append(names, name)
	}
	sort.Strings(names)

	if s.asJSON {
		return s.encode(names)
	}
	for _, name := range names {
		if _, err := fmt.Fprintln(s.out, name); err != nil {
			return err
		}
	}
	return nil
}

// List prints every row of the table
func (s *Service) List(ctx context.Context) error {
	records, err := s.store.Records(ctx)
	if err != nil {
		return err
	}
	if s.asJSON {
		if records == nil {
			records = []store.Record{}
		}
		return s.encode(records)
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(s.out, "%s\t%d\n", r.PlayerID, r.Points); err != nil {
			return err
		}
	}
	return nil
}

// Build creates the points table
func (s *Service) Build(ctx context.Context) error {
	if _, err := s.store.Build(ctx); err != nil {
		return err
	}
	s.logger.Info("points table built")
	return nil
}

// Destroy drops the points table and every balance in it
func (s *Service) Destroy(ctx context.Context) error {
	if _, err := s.store.Destroy(ctx); err != nil {
		return err
	}
	s.logger.Info("points table destroyed")
	return nil
}

// Import reads newline-delimited JSON entries from r and writes them through
// a pool of workers. Malformed lines are logged and skipped.
func (s *Service) Import(ctx context.Context, r io.Reader, workers int) (worker.Stats, error) {
	s.logger.Info("starting import", zap.Int("workers", workers))

	pool := worker.NewWorkerPool(s.logger, s.store, workers)
	pool.Start(ctx)

	skipped := 0
	scanErr := parser.ScanEntries(r, func(line int, e parser.Entry) error {
		return pool.Submit(ctx, worker.Job{Entry: e, Line: line})
	}, func(le *parser.LineError) {
		skipped++
		metrics.ImportEntriesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		s.logger.Warn("skipping malformed line", zap.Int("line", le.Line), zap.Error(le.Err))
	})

	// Queued jobs still drain when the scan failed
	shutdownErr := pool.Shutdown(context.WithoutCancel(ctx))
	stats := pool.Stats()

	s.logger.Info("import finished",
		zap.Int64("written", stats.Written),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("failed", stats.Failed),
		zap.Int("skipped", skipped))

	if scanErr != nil {
		return stats, fmt.Errorf("import aborted: %w", scanErr)
	}
	if shutdownErr != nil {
		return stats, fmt.Errorf("import shutdown: %w", shutdownErr)
	}
	if s.asJSON {
		return stats, s.encode(map[string]int64{
			"written":  stats.Written,
			"rejected": stats.Rejected,
			"failed":   stats.Failed,
			"skipped":  int64(skipped),
		})
	}
	_, err := fmt.Fprintf(s.out, "written=%d rejected=%d failed=%d skipped=%d\n",
		stats.Written, stats.Rejected, stats.Failed, skipped)
	return stats, err
}

func (s *Service) encode(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
