package crawler

import "errors"

// Error taxonomy for a harvest job. Callers wrap these with context and
// classify with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied by robots.txt")
	ErrFetch            = errors.New("page fetch failed")
	ErrBlockedContent   = errors.New("blocked by anti-automation content")
	ErrParse            = errors.New("page parse failed")
	ErrEnrichment       = errors.New("enrichment failed")
	ErrPersistence      = errors.New("persistence failed")
	ErrCanceled         = errors.New("job canceled before start")
)

// StopReasonFor maps a loop error to the matching StopReason.
func StopReasonFor(err error) StopReason {
	switch {
	case err == nil:
		return StopNone
	case errors.Is(err, ErrPermissionDenied):
		return StopDenied
	case errors.Is(err, ErrBlockedContent):
		return StopBlocked
	case errors.Is(err, ErrFetch):
		return StopFetchError
	case errors.Is(err, ErrCanceled):
		return StopCanceled
	default:
		return StopNone
	}
}
