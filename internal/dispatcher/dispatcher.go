// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/queue/memory"
	"github.com/JakeFAU/listing-harvester/internal/worker"
)

// Dispatcher fans out one job per target to a fixed pool of workers.
type Dispatcher struct {
	workers []*worker.Worker
	ids     crawler.IDGenerator
	observe func(crawler.JobResult)
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, ids crawler.IDGenerator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		ids:     ids,
		logger:  logger,
	}
}

// Observe registers fn to be called, from the collecting goroutine, as each
// job result arrives.
func (d *Dispatcher) Observe(fn func(crawler.JobResult)) {
	d.observe = fn
}

// Run enqueues every target, starts all workers, and blocks until each job
// has reported a result. Results arrive in completion order.
func (d *Dispatcher) Run(ctx context.Context, targets []crawler.Target) ([]crawler.JobResult, error) {
	if len(d.workers) == 0 {
		return nil, fmt.Errorf("dispatcher has no workers")
	}

	queue := memory.NewQueue(len(targets))
	for _, target := range targets {
		id, err := d.newID()
		if err != nil {
			return nil, fmt.Errorf("job id for %s: %w", target.Slug(), err)
		}
		if err := queue.Enqueue(context.WithoutCancel(ctx), crawler.Job{ID: id, Target: target}); err != nil {
			return nil, fmt.Errorf("queue enqueue: %w", err)
		}
	}
	queue.Close()
	d.logger.Info("jobs queued", zap.Int("jobs", len(targets)), zap.Int("workers", len(d.workers)))

	results := make(chan crawler.JobResult, len(targets))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx, queue, results)
		}(w)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]crawler.JobResult, 0, len(targets))
	for r := range results {
		if d.observe != nil {
			d.observe(r)
		}
		out = append(out, r)
	}
	return out, nil
}

func (d *Dispatcher) newID() (string, error) {
	if d.ids == nil {
		return "", fmt.Errorf("no id generator configured")
	}
	id, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}
