package crawler

import (
	"context"
	"time"
)

// PageFetcher fetches a results page and returns the body plus metadata.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ListingParser turns raw page content into listing records.
type ListingParser interface {
	Parse(target Target, body []byte, capturedAt time.Time) (ParseResult, error)
}

// PermissionGate answers whether a path may be fetched.
type PermissionGate interface {
	Allowed(ctx context.Context, path string) bool
}

// BlockDetector flags anti-automation interstitials.
type BlockDetector interface {
	Blocked(body []byte) bool
}

// Limiter throttles outgoing requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Enricher attaches oracle scores to a harvested batch.
type Enricher interface {
	Enrich(ctx context.Context, listings []RawListing) []EnrichedListing
}

// Sink persists one job's enriched batch.
type Sink interface {
	WriteBatch(ctx context.Context, target Target, listings []EnrichedListing) error
}

// ResettableSink can be cleared at the start of a run.
type ResettableSink interface {
	Sink
	Reset(ctx context.Context) error
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
