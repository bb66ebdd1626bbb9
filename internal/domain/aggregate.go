package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Aggregation is the recomputed state of a Job derived from its SourceResults.
type Aggregation struct {
	Counters Counters
	Status   JobStatus
	// Terminal is true when every SourceResult has settled.
	Terminal     bool
	ErrorSummary string
}

// Aggregate recomputes a job's counters and status from the full set of its
// source results. Precedence: any pending/running keeps the job running; any
// failed fails it; a cancelled job stays cancelled; otherwise completed.
func Aggregate(current JobStatus, results []*SourceResult) (Aggregation, error) {
	var agg Aggregation
	if len(results) == 0 {
		return agg, ErrNoSourceResults
	}

	var unsettled bool
	var failed []string
	for _, r := range results {
		agg.Counters.Add(r.Counters)
		switch r.Status {
		case SourceStatusPending, SourceStatusRunning:
			unsettled = true
		case SourceStatusFailed:
			msg := r.SourceID
			if r.ErrorMessage != nil && *r.ErrorMessage != "" {
				msg += ": " + *r.ErrorMessage
			}
			failed = append(failed, msg)
		case SourceStatusCompleted, SourceStatusSkipped:
		default:
			return agg, fmt.Errorf("source result %s has unknown status %q", r.ID, r.Status)
		}
	}

	switch {
	case unsettled:
		agg.Status = current
		if !current.IsTerminal() {
			agg.Status = JobStatusRunning
		}
		return agg, nil
	case len(failed) > 0:
		agg.Status = JobStatusFailed
		sort.Strings(failed)
		agg.ErrorSummary = fmt.Sprintf("%d of %d sources failed: %s",
			len(failed), len(results), strings.Join(failed, "; "))
	case current == JobStatusCancelled:
		agg.Status = JobStatusCancelled
	default:
		agg.Status = JobStatusCompleted
	}
	agg.Terminal = true
	return agg, nil
}
