// Package crawler implements the per-target harvesting core: target parsing,
// the robots gate, blocked-content detection, deduplication, politeness, and
// the page loop that drives a PageFetcher and ListingParser for one job.
package crawler
