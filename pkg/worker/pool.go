package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"playerpoints/pkg/logger"
	"playerpoints/pkg/metrics"
	"playerpoints/pkg/parser"

	"go.uber.org/zap"
)

// Writer is the subset of the points store the pool writes through
type Writer interface {
	SetPoints(ctx context.Context, id string, points int) (bool, error)
}

// Job represents a unit of work for a worker
type Job struct {
	Entry parser.Entry
	Line  int
}

// Stats summarises what the pool has done so far
type Stats struct {
	Written  int64
	Rejected int64
	Failed   int64
}

// WorkerPool writes imported entries concurrently
type WorkerPool struct {
	logger     *logger.Logger
	writer     Writer
	numWorkers int
	inputChan  chan Job
	wg         sync.WaitGroup
	cancel     context.CancelFunc

	written  atomic.Int64
	rejected atomic.Int64
	failed   atomic.Int64
}

// NewWorkerPool creates a new WorkerPool instance
func NewWorkerPool(l *logger.Logger, w Writer, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		logger:     l,
		writer:     w,
		numWorkers: numWorkers,
		inputChan:  make(chan Job, numWorkers*2), // Buffered for smooth handoff
	}
}

// Start initializes the worker goroutines
func (p *WorkerPool) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(workerCtx, i)
	}
}

// Submit hands an entry to the pool, blocking while every worker is busy
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	select {
	case p.inputChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for {
		select {
		case job, ok := <-p.inputChan:
			if !ok {
				return
			}
			p.process(ctx, job)

		case <-ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, job Job) {
	ok, err := p.writer.SetPoints(ctx, job.Entry.Player, job.Entry.Points)
	switch {
	case err != nil:
		p.failed.Add(1)
		metrics.ImportEntriesTotal.WithLabelValues(metrics.ResultError).Inc()
		p.logger.Error("failed to import entry", err,
			zap.Int("line", job.Line),
			zap.String("player", job.Entry.Player))
	case !ok:
		p.rejected.Add(1)
		metrics.ImportEntriesTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		p.logger.Warn("entry rejected by store",
			zap.Int("line", job.Line),
			zap.String("player", job.Entry.Player))
	default:
		p.written.Add(1)
		metrics.ImportEntriesTotal.WithLabelValues(metrics.ResultOK).Inc()
	}
}

// Stats returns the running totals
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Written:  p.written.Load(),
		Rejected: p.rejected.Load(),
		Failed:   p.failed.Load(),
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	close(p.inputChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return ctx.Err()
	}
}
