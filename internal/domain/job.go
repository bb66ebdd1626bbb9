// Package domain holds the crawl job model shared by the orchestrator,
// the crawler, and the repositories.
package domain

import (
	"time"

	"github.com/lib/pq"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

// Job states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed by callers.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// TriggerOrigin records what created a Job.
type TriggerOrigin string

// Trigger origins.
const (
	TriggerManual    TriggerOrigin = "manual"
	TriggerScheduled TriggerOrigin = "scheduled"
	TriggerAPI       TriggerOrigin = "api"
)

// Valid reports whether t is a known origin.
func (t TriggerOrigin) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerAPI:
		return true
	default:
		return false
	}
}

// Priority bounds and default. Higher is more urgent.
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// Counters are the per-crawl tallies kept on both Job and SourceResult.
type Counters struct {
	PagesFetched int `db:"pages_fetched" json:"pages_fetched"`
	TotalFound   int `db:"total_found"   json:"total_found"`
	NewDocuments int `db:"new_documents" json:"new_documents"`
	Duplicates   int `db:"duplicates"    json:"duplicates"`
	Errors       int `db:"errors"        json:"errors"`
}

// Add accumulates o into c.
func (c *Counters) Add(o Counters) {
	c.PagesFetched += o.PagesFetched
	c.TotalFound += o.TotalFound
	c.NewDocuments += o.NewDocuments
	c.Duplicates += o.Duplicates
	c.Errors += o.Errors
}

// Job is one crawl execution request over one or more sources.
type Job struct {
	ID            string         `db:"id"              json:"id"`
	Status        JobStatus      `db:"status"          json:"status"`
	SourceIDs     pq.StringArray `db:"source_ids"      json:"source_ids"`
	Priority      int            `db:"priority"        json:"priority"`
	TriggerOrigin TriggerOrigin  `db:"trigger_origin"  json:"trigger_origin"`
	Overrides     JSONBMap       `db:"overrides"       json:"overrides,omitempty"`
	StartedAt     *time.Time     `db:"started_at"      json:"started_at,omitempty"`
	FinishedAt    *time.Time     `db:"finished_at"     json:"finished_at,omitempty"`
	ErrorSummary  *string        `db:"error_summary"   json:"error_summary,omitempty"`
	TaskHandle    *string        `db:"task_handle"     json:"task_handle,omitempty"`
	CreatedAt     time.Time      `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"      json:"updated_at"`

	Counters
}

// IsFinalized reports whether the terminal result has been committed.
// A cancelled job is not finalized until its sources settle.
func (j *Job) IsFinalized() bool {
	return j.FinishedAt != nil
}

// SourceResultStatus is the lifecycle state of one source within a Job.
type SourceResultStatus string

// SourceResult states.
const (
	SourceStatusPending   SourceResultStatus = "pending"
	SourceStatusRunning   SourceResultStatus = "running"
	SourceStatusCompleted SourceResultStatus = "completed"
	SourceStatusFailed    SourceResultStatus = "failed"
	SourceStatusSkipped   SourceResultStatus = "skipped"
)

// IsSettled reports whether the source has reached a terminal state.
func (s SourceResultStatus) IsSettled() bool {
	return s == SourceStatusCompleted || s == SourceStatusFailed || s == SourceStatusSkipped
}

// SourceResult is the outcome record of one (Job, Source) pair.
type SourceResult struct {
	ID           string             `db:"id"            json:"id"`
	JobID        string             `db:"job_id"        json:"job_id"`
	SourceID     string             `db:"source_id"     json:"source_id"`
	Status       SourceResultStatus `db:"status"        json:"status"`
	Strategy     *string            `db:"strategy"      json:"strategy,omitempty"`
	ErrorMessage *string            `db:"error_message" json:"error_message,omitempty"`
	TaskHandle   *string            `db:"task_handle"   json:"task_handle,omitempty"`
	StartedAt    *time.Time         `db:"started_at"    json:"started_at,omitempty"`
	FinishedAt   *time.Time         `db:"finished_at"   json:"finished_at,omitempty"`
	CreatedAt    time.Time          `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at"    json:"updated_at"`

	Counters
}

// SourceOutcome is what a worker records when it settles a SourceResult.
type SourceOutcome struct {
	Status       SourceResultStatus
	Counters     Counters
	Strategy     string
	ErrorMessage string
}

// WorkUnit is the message submitted to the execution substrate: one source of one job.
type WorkUnit struct {
	JobID    string `json:"job_id"`
	SourceID string `json:"source_id"`
}

// JobStatusView is the read model returned by getJobStatus.
type JobStatusView struct {
	Job     *Job            `json:"job"`
	Sources []*SourceResult `json:"sources"`
}

// IsSingleSource reports whether the job has exactly one SourceResult.
func (v *JobStatusView) IsSingleSource() bool {
	return len(v.Sources) == 1
}
