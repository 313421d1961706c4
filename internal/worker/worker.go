// Package worker implements the per-job harvest pipeline: crawl, enrich, persist.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/enricher"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/queue/memory"
)

// Harvester runs the page loop for a single job.
type Harvester interface {
	Run(ctx context.Context, job crawler.Job) (crawler.LoopResult, error)
}

// Worker consumes jobs from the queue and executes the harvest pipeline.
type Worker struct {
	id        int
	harvester Harvester
	enricher  crawler.Enricher
	sink      crawler.Sink
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Worker. The enricher and sink may be nil, in which case
// listings are scored with the fallback value and not persisted.
func New(
	id int,
	harvester Harvester,
	scorer crawler.Enricher,
	sink crawler.Sink,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		harvester: harvester,
		enricher:  scorer,
		sink:      sink,
		clock:     clock,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run consumes jobs until the queue is drained, sending one result per job.
// Once ctx is done, remaining jobs are reported canceled without being started.
func (w *Worker) Run(ctx context.Context, queue crawler.Queue, results chan<- crawler.JobResult) {
	for {
		// The queue is filled and closed before workers start, so dequeue
		// never blocks on shutdown.
		job, err := queue.Dequeue(context.WithoutCancel(ctx))
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) {
				w.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			results <- w.canceled(job)
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID), zap.String("target", job.Target.Slug()))
		results <- w.processJob(ctx, job)
	}
}

func (w *Worker) canceled(job crawler.Job) crawler.JobResult {
	metrics.ObserveJob(string(crawler.StopCanceled))
	w.logger.Info("job abandoned after shutdown",
		zap.String("job_id", job.ID), zap.String("target", job.Target.Slug()))
	return crawler.JobResult{
		JobID:  job.ID,
		Target: job.Target,
		Stop:   crawler.StopCanceled,
		Err:    fmt.Errorf("target %s: %w", job.Target.Slug(), crawler.ErrCanceled),
	}
}

func (w *Worker) processJob(ctx context.Context, job crawler.Job) (result crawler.JobResult) {
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("target", job.Target.Slug()))
	start := w.now()
	result = crawler.JobResult{JobID: job.ID, Target: job.Target}

	metrics.IncActiveWorkers()
	defer func() {
		metrics.DecActiveWorkers()
		if r := recover(); r != nil {
			result.Err = errors.Join(result.Err, fmt.Errorf("target %s: panic: %v", job.Target.Slug(), r))
			logger.Error("job panicked", zap.Any("panic", r))
		}
		result.Duration = w.now().Sub(start)
		status := jobStatus(result)
		metrics.ObserveJob(status)
		fields := []zap.Field{
			zap.String("status", status),
			zap.String("stop", string(result.Stop)),
			zap.Int("pages", result.Pages),
			zap.Int("listings", result.Listings),
			zap.Int("fallbacks", result.Fallbacks),
			zap.Duration("duration", result.Duration),
		}
		if result.Err != nil {
			logger.Error("job finished with error", append(fields, zap.Error(result.Err))...)
			return
		}
		logger.Info("job finished", fields...)
	}()

	loop, loopErr := w.harvester.Run(ctx, job)
	result.Pages = loop.Pages
	result.Stop = loop.Stop
	result.Listings = len(loop.Listings)
	if len(loop.Listings) == 0 {
		result.Err = loopErr
		return result
	}

	enriched := w.enrich(ctx, loop.Listings)
	for _, listing := range enriched {
		if listing.UsedFallback {
			result.Fallbacks++
		}
	}

	var persistErr error
	if w.sink != nil {
		persistErr = w.sink.WriteBatch(ctx, job.Target, enriched)
	}
	result.Err = errors.Join(loopErr, persistErr)
	return result
}

func (w *Worker) enrich(ctx context.Context, listings []crawler.RawListing) []crawler.EnrichedListing {
	if w.enricher != nil {
		return w.enricher.Enrich(ctx, listings)
	}
	out := make([]crawler.EnrichedListing, len(listings))
	for i, listing := range listings {
		out[i] = enricher.Fallback(listing, nil)
	}
	return out
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now()
	}
	return w.clock.Now()
}

func jobStatus(result crawler.JobResult) string {
	switch {
	case result.Err != nil:
		return "failed"
	case result.Stop == crawler.StopCanceled:
		return string(crawler.StopCanceled)
	default:
		return "succeeded"
	}
}
