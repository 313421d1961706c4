package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Report summarises a finished run.
type Report struct {
	RunID             string
	Started           time.Time
	Elapsed           time.Duration
	Jobs              int
	Succeeded         int
	Canceled          int
	Listings          int
	Fallbacks         int
	Failures          []crawler.JobResult
	Results           []crawler.JobResult
	ArchiveURI        string
	ShutdownRequested bool
}

// Snapshot is the live view of a run served by the status API.
type Snapshot struct {
	RunID             string    `json:"runId"`
	Started           time.Time `json:"started"`
	Running           bool      `json:"running"`
	JobsTotal         int       `json:"jobsTotal"`
	JobsDone          int       `json:"jobsDone"`
	JobsFailed        int       `json:"jobsFailed"`
	JobsCanceled      int       `json:"jobsCanceled"`
	Listings          int       `json:"listings"`
	ShutdownRequested bool      `json:"shutdownRequested"`
}

// FormatElapsed renders d as "Xh, Ym, Zs", truncated to whole seconds.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%dh, %dm, %ds", total/3600, (total%3600)/60, total%60)
}

// buildReport classifies results. Jobs abandoned by shutdown count as
// canceled rather than failed.
func buildReport(runID string, started time.Time, elapsed time.Duration, results []crawler.JobResult) Report {
	report := Report{
		RunID:   runID,
		Started: started,
		Elapsed: elapsed,
		Jobs:    len(results),
		Results: results,
	}
	for _, r := range results {
		report.Listings += r.Listings
		report.Fallbacks += r.Fallbacks
		switch {
		case canceled(r):
			report.Canceled++
		case r.Failed():
			report.Failures = append(report.Failures, r)
		default:
			report.Succeeded++
		}
	}
	return report
}

// canceled reports whether shutdown cut the job short: either it never
// started, or it stopped at a checkpoint without error.
func canceled(r crawler.JobResult) bool {
	return errors.Is(r.Err, crawler.ErrCanceled) || (r.Err == nil && r.Stop == crawler.StopCanceled)
}
