package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// LoopConfig controls the per-job page loop.
type LoopConfig struct {
	// MaxPages is the page ceiling; zero disables it.
	MaxPages int
	// PermissionPath is the path checked against the PermissionGate.
	PermissionPath string
	Politeness     Politeness
}

// LoopResult is what a job's page loop accumulated before terminating.
type LoopResult struct {
	Listings []RawListing
	Pages    int
	Stop     StopReason
}

// Loop drives the page-by-page crawl for a single target.
type Loop struct {
	fetcher  PageFetcher
	parser   ListingParser
	gate     PermissionGate
	detector BlockDetector
	limiter  Limiter
	urls     SearchURLBuilder
	clock    Clock
	cfg      LoopConfig
	pauser   pauseController
	logger   *zap.Logger
}

// NewLoop wires a Loop. gate, detector, limiter, and clock may be nil.
func NewLoop(
	fetcher PageFetcher,
	parser ListingParser,
	gate PermissionGate,
	detector BlockDetector,
	limiter Limiter,
	urls SearchURLBuilder,
	clock Clock,
	cfg LoopConfig,
	logger *zap.Logger,
) *Loop {
	if gate == nil {
		gate = AllowAllGate{}
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		fetcher:  fetcher,
		parser:   parser,
		gate:     gate,
		detector: detector,
		limiter:  limiter,
		urls:     urls,
		clock:    clock,
		cfg:      cfg,
		pauser:   &timerPauseController{},
		logger:   logger,
	}
}

// Run crawls job.Target until a termination condition holds. The listings
// gathered before a fetch error or blocked page are returned together with
// the error.
func (l *Loop) Run(ctx context.Context, job Job) (LoopResult, error) {
	logger := l.logger.With(zap.String("job_id", job.ID), zap.String("target", job.Target.Slug()))
	result := LoopResult{}

	if ctx.Err() != nil {
		result.Stop = StopCanceled
		return result, nil
	}
	if !l.gate.Allowed(ctx, l.cfg.PermissionPath) {
		result.Stop = StopDenied
		logger.Warn("crawl not permitted", zap.String("path", l.cfg.PermissionPath))
		return result, fmt.Errorf("target %s: %w", job.Target.Slug(), ErrPermissionDenied)
	}

	l.pauser.Pause(ctx, l.cfg.Politeness.BeforeStart())

	seen := NewDedupSet()
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			result.Stop = StopCanceled
			logger.Info("shutdown observed; stopping page loop", zap.Int("page", page))
			return result, nil
		}

		body, err := l.fetchPage(ctx, job, page)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				result.Stop = StopCanceled
				return result, nil
			}
			result.Stop = StopReasonFor(err)
			logger.Error("page fetch aborted job", zap.Int("page", page), zap.Error(err))
			return result, err
		}
		result.Pages++

		parsed, err := l.parser.Parse(job.Target, body, l.clock.Now())
		if err != nil {
			logger.Warn("page parse failed; treating as end of results",
				zap.Int("page", page), zap.Error(fmt.Errorf("%w: %w", ErrParse, err)))
			parsed = ParseResult{}
		}
		if len(parsed.Listings) == 0 {
			result.Stop = StopNoListings
			logger.Info("no listings on page", zap.Int("page", page))
			return result, nil
		}

		fresh := 0
		for _, listing := range parsed.Listings {
			if !seen.MarkIfNew(listing.Link) {
				continue
			}
			result.Listings = append(result.Listings, listing)
			fresh++
		}
		metrics.ObserveListings(fresh)
		logger.Debug("page harvested",
			zap.Int("page", page),
			zap.Int("cards", len(parsed.Listings)),
			zap.Int("new", fresh),
			zap.Int("seen", seen.Len()),
			zap.Bool("more", parsed.More),
		)
		if fresh == 0 {
			result.Stop = StopNoNew
			logger.Info("no new listings on page", zap.Int("page", page))
			return result, nil
		}
		if l.cfg.MaxPages > 0 && page >= l.cfg.MaxPages {
			result.Stop = StopPageCeiling
			return result, nil
		}

		l.pauser.Pause(ctx, l.cfg.Politeness.BetweenPages())
	}
}

func (l *Loop) fetchPage(ctx context.Context, job Job, page int) ([]byte, error) {
	url, err := l.urls.Build(job.Target, page)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w: %w", page, ErrFetch, err)
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("page %d: %w: %w", page, ErrFetch, err)
		}
	}

	// In-flight fetches are never interrupted by shutdown; the fetcher's own
	// timeout bounds them.
	resp, err := l.fetcher.Fetch(context.WithoutCancel(ctx), FetchRequest{
		JobID: job.ID,
		URL:   url,
		Page:  page,
	})
	if err != nil {
		metrics.ObservePage("error")
		return nil, fmt.Errorf("page %d: %w: %w", page, ErrFetch, err)
	}
	if resp.StatusCode != 0 && (resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices) {
		metrics.ObservePage("error")
		return nil, fmt.Errorf("page %d: %w: status %d", page, ErrFetch, resp.StatusCode)
	}
	if l.detector != nil && l.detector.Blocked(resp.Body) {
		metrics.ObservePage("blocked")
		return nil, fmt.Errorf("page %d: %w", page, ErrBlockedContent)
	}
	metrics.ObservePage("ok")
	return resp.Body, nil
}
