// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/worker"
)

// TestDispatcherRunReportsEveryTarget ensures each target yields exactly one result.
func TestDispatcherRunReportsEveryTarget(t *testing.T) {
	t.Parallel()

	harvester := &countingHarvester{}
	sink := &recordingSink{}
	workers := make([]*worker.Worker, 3)
	for i := range workers {
		workers[i] = worker.New(i, harvester, nil, sink, nil, zap.NewNop())
	}
	d := New(workers, &sequenceIDs{}, zap.NewNop())
	observed := 0
	d.Observe(func(crawler.JobResult) { observed++ })

	targets := []crawler.Target{
		{Make: "toyota", Model: "camry"},
		{Make: "honda", Model: "civic"},
		{Make: "ford", Model: "f-150"},
		{Make: "mazda", Model: "cx-5"},
	}
	results, err := d.Run(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, results, len(targets))

	var slugs, ids []string
	for _, r := range results {
		require.NoError(t, r.Err)
		slugs = append(slugs, r.Target.Slug())
		ids = append(ids, r.JobID)
	}
	sort.Strings(slugs)
	sort.Strings(ids)
	assert.Equal(t, []string{"ford-f-150", "honda-civic", "mazda-cx-5", "toyota-camry"}, slugs)
	assert.Equal(t, []string{"job-1", "job-2", "job-3", "job-4"}, ids)
	assert.EqualValues(t, 4, harvester.calls.Load())
	assert.Equal(t, 4, sink.count())
	assert.Equal(t, 4, observed)
}

// TestDispatcherRunAfterShutdownStartsNothing verifies queued jobs are abandoned once shutdown is requested.
func TestDispatcherRunAfterShutdownStartsNothing(t *testing.T) {
	t.Parallel()

	harvester := &countingHarvester{}
	sink := &recordingSink{}
	d := New([]*worker.Worker{
		worker.New(0, harvester, nil, sink, nil, zap.NewNop()),
		worker.New(1, harvester, nil, sink, nil, zap.NewNop()),
	}, &sequenceIDs{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := d.Run(ctx, []crawler.Target{
		{Make: "toyota", Model: "camry"},
		{Make: "honda", Model: "civic"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.ErrorIs(t, r.Err, crawler.ErrCanceled)
		assert.Equal(t, crawler.StopCanceled, r.Stop)
	}
	assert.Zero(t, harvester.calls.Load())
	assert.Zero(t, sink.count())
}

// TestDispatcherRunErrors covers configuration failures surfaced to callers.
func TestDispatcherRunErrors(t *testing.T) {
	t.Parallel()

	targets := []crawler.Target{{Make: "toyota", Model: "camry"}}

	_, err := New(nil, &sequenceIDs{}, zap.NewNop()).Run(context.Background(), targets)
	require.Error(t, err)

	w := worker.New(0, &countingHarvester{}, nil, nil, nil, zap.NewNop())
	_, err = New([]*worker.Worker{w}, failingIDs{}, zap.NewNop()).Run(context.Background(), targets)
	require.ErrorContains(t, err, "job id for toyota-camry")

	_, err = New([]*worker.Worker{w}, nil, zap.NewNop()).Run(context.Background(), targets)
	require.Error(t, err)
}

// TestDispatcherRunEmptyTargets returns no results without starting jobs.
func TestDispatcherRunEmptyTargets(t *testing.T) {
	t.Parallel()

	harvester := &countingHarvester{}
	w := worker.New(0, harvester, nil, nil, nil, zap.NewNop())
	results, err := New([]*worker.Worker{w}, &sequenceIDs{}, zap.NewNop()).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, harvester.calls.Load())
}

// --- fakes ---

type countingHarvester struct {
	calls atomic.Int32
}

func (h *countingHarvester) Run(_ context.Context, job crawler.Job) (crawler.LoopResult, error) {
	h.calls.Add(1)
	return crawler.LoopResult{
		Listings: []crawler.RawListing{{Link: "https://example.com/" + job.Target.Slug()}},
		Pages:    1,
		Stop:     crawler.StopNoNew,
	}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	batches int
}

func (s *recordingSink) WriteBatch(context.Context, crawler.Target, []crawler.EnrichedListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}
