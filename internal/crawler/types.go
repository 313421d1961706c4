package crawler

import (
	"net/http"
	"time"
)

// Target identifies one crawl job: a make/model combination in the catalog.
type Target struct {
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Slug returns the "<make>-<model>" form used in the target list and search queries.
func (t Target) Slug() string {
	return t.Make + "-" + t.Model
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return t.Slug()
}

// RawListing is a single listing card as produced by a ListingParser.
type RawListing struct {
	Title          string    `json:"title"`
	Make           string    `json:"make"`
	Model          string    `json:"model"`
	ModelTitle     string    `json:"modelTitle"`
	Condition      string    `json:"condition"`
	Year           string    `json:"year"`
	Price          string    `json:"price"`
	MonthlyPayment string    `json:"monthlyPayment"`
	Mileage        string    `json:"mileage"`
	Dealer         string    `json:"dealer"`
	Region         string    `json:"region"`
	State          string    `json:"state"`
	Link           string    `json:"link"`
	CapturedAt     time.Time `json:"time"`
}

// EnrichedListing is a RawListing with the oracle score attached.
type EnrichedListing struct {
	RawListing
	Value        float64 `json:"value"`
	UsedFallback bool    `json:"usedFallback"`
}

// StopReason records why a job's page loop terminated.
type StopReason string

// Page loop termination reasons.
const (
	StopNone        StopReason = ""
	StopNoListings  StopReason = "no_listings"
	StopNoNew       StopReason = "no_new_listings"
	StopPageCeiling StopReason = "page_ceiling"
	StopCanceled    StopReason = "canceled"
	StopDenied      StopReason = "permission_denied"
	StopFetchError  StopReason = "fetch_error"
	StopBlocked     StopReason = "blocked_content"
)

// Job is a unit of work handed to a worker.
type Job struct {
	ID     string
	Target Target
}

// JobResult is the per-target outcome reported back to the supervisor.
type JobResult struct {
	JobID     string
	Target    Target
	Listings  int
	Pages     int
	Fallbacks int
	Stop      StopReason
	Err       error
	Duration  time.Duration
}

// Failed reports whether the job ended with an error.
func (r JobResult) Failed() bool {
	return r.Err != nil
}

// FetchRequest captures everything needed to fetch a results page.
type FetchRequest struct {
	JobID   string
	URL     string
	Page    int
	Headers http.Header
}

// FetchResponse is the result returned by a PageFetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ParseResult is what a ListingParser extracts from one results page.
type ParseResult struct {
	Listings []RawListing
	// More is the parser's continuation hint. The loop relies on its own
	// termination checks and only logs it.
	More bool
}
