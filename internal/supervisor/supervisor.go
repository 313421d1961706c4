// Package supervisor runs one harvest: it prepares the sinks, dispatches a job
// per target, and produces the final report.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Runner executes one job per target and returns every result.
type Runner interface {
	Run(ctx context.Context, targets []crawler.Target) ([]crawler.JobResult, error)
}

// Archiver stores a finished run artifact and returns its URI.
type Archiver interface {
	Upload(ctx context.Context, object, contentType string, r io.Reader) (string, error)
}

// Config controls a run.
type Config struct {
	// PermissionPath is checked once against the gate before jobs start.
	PermissionPath string
	// CSVPath is the file sink's output, archived after the run when an Archiver is set.
	CSVPath string
}

// Supervisor coordinates a single run.
type Supervisor struct {
	runner   Runner
	sink     crawler.ResettableSink
	gate     crawler.PermissionGate
	archiver Archiver
	ids      crawler.IDGenerator
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	runCtx   context.Context
}

// New wires a Supervisor. sink, gate, and archiver may be nil.
func New(
	runner Runner,
	sink crawler.ResettableSink,
	gate crawler.PermissionGate,
	archiver Archiver,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		runner:   runner,
		sink:     sink,
		gate:     gate,
		archiver: archiver,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes every target and blocks until all jobs have reported. Job
// failures are part of the report; the error is reserved for failures that
// prevent the run from starting.
func (s *Supervisor) Run(ctx context.Context, targets []crawler.Target) (Report, error) {
	runID, err := s.newRunID()
	if err != nil {
		return Report{}, err
	}
	started := s.now()
	logger := s.logger.With(zap.String("run_id", runID))
	s.begin(ctx, runID, started, len(targets))

	if s.sink != nil {
		if err := s.sink.Reset(ctx); err != nil {
			s.abort()
			return Report{}, fmt.Errorf("reset sinks: %w", err)
		}
	}
	if s.gate != nil {
		allowed := s.gate.Allowed(ctx, s.cfg.PermissionPath)
		logger.Info("crawl permission evaluated",
			zap.String("path", s.cfg.PermissionPath), zap.Bool("allowed", allowed))
	}

	logger.Info("harvest started", zap.Int("targets", len(targets)))
	results, err := s.runner.Run(ctx, targets)
	if err != nil {
		s.abort()
		return Report{}, fmt.Errorf("dispatch jobs: %w", err)
	}

	report := buildReport(runID, started, s.now().Sub(started), results)
	report.ShutdownRequested = ctx.Err() != nil
	if s.archiver != nil && s.cfg.CSVPath != "" {
		uri, err := s.archive(ctx, runID)
		if err != nil {
			logger.Error("archive upload failed", zap.Error(err))
		} else if uri != "" {
			report.ArchiveURI = uri
			logger.Info("run archived", zap.String("uri", uri))
		}
	}
	s.finish(report)
	s.log(logger, report)
	return report, nil
}

// Record folds one job result into the live snapshot.
func (s *Supervisor) Record(result crawler.JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.JobsDone++
	s.snapshot.Listings += result.Listings
	switch {
	case canceled(result):
		s.snapshot.JobsCanceled++
	case result.Err != nil:
		s.snapshot.JobsFailed++
	}
}

// Snapshot returns the progress of the current or last run.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	if s.runCtx != nil && s.runCtx.Err() != nil {
		snap.ShutdownRequested = true
	}
	return snap
}

func (s *Supervisor) begin(ctx context.Context, runID string, started time.Time, jobs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	s.snapshot = Snapshot{RunID: runID, Started: started, JobsTotal: jobs, Running: true}
}

func (s *Supervisor) finish(report Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Running = false
	s.snapshot.JobsDone = report.Jobs
	s.snapshot.JobsFailed = len(report.Failures)
	s.snapshot.JobsCanceled = report.Canceled
	s.snapshot.Listings = report.Listings
}

// abort marks a run that failed before producing a report as no longer running.
func (s *Supervisor) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Running = false
}

func (s *Supervisor) archive(ctx context.Context, runID string) (string, error) {
	f, err := os.Open(s.cfg.CSVPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open csv: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	object := runID + "/" + filepath.Base(s.cfg.CSVPath)
	uri, err := s.archiver.Upload(context.WithoutCancel(ctx), object, "text/csv", f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	return uri, nil
}

func (s *Supervisor) log(logger *zap.Logger, report Report) {
	for _, failure := range report.Failures {
		logger.Warn("job failed",
			zap.String("job_id", failure.JobID),
			zap.String("target", failure.Target.Slug()),
			zap.String("stop", string(failure.Stop)),
			zap.Int("listings", failure.Listings),
			zap.Error(failure.Err),
		)
	}
	logger.Info("harvest finished",
		zap.String("elapsed", FormatElapsed(report.Elapsed)),
		zap.Int("jobs", report.Jobs),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", len(report.Failures)),
		zap.Int("canceled", report.Canceled),
		zap.Int("listings", report.Listings),
		zap.Int("fallbacks", report.Fallbacks),
		zap.Bool("shutdown_requested", report.ShutdownRequested),
	)
}

func (s *Supervisor) newRunID() (string, error) {
	if s.ids == nil {
		return "", errors.New("no id generator configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (s *Supervisor) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}
