// Package memstore keeps jobs, source results, sources, and documents in
// process memory. A single mutex stands in for the job row lock, so Finalize
// has the same serialization guarantees as the PostgreSQL repository.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

// Store is an in-memory job, source, and document store. The zero value is not usable.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	results   map[string][]*domain.SourceResult
	sources   map[string]*domain.Source
	documents map[string]*domain.Document
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*domain.Job),
		results:   make(map[string][]*domain.SourceResult),
		sources:   make(map[string]*domain.Source),
		documents: make(map[string]*domain.Document),
	}
}

// CreateJob stores a new job, assigning an ID when empty.
func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job: %s already exists", job.ID)
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob returns a copy of the job.
func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return copyJob(job), nil
}

// ListSourceResults returns copies of the job's results in source order.
func (s *Store) ListSourceResults(_ context.Context, jobID string) ([]*domain.SourceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return copyResults(s.results[jobID]), nil
}

// Dispatch implements the orchestrator's job store contract.
func (s *Store) Dispatch(_ context.Context, jobID string, now time.Time) (*domain.Job, []*domain.SourceResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil, false, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if job.Status != domain.JobStatusPending {
		return copyJob(job), copyResults(s.results[jobID]), false, nil
	}

	existing := make(map[string]bool, len(s.results[jobID]))
	for _, r := range s.results[jobID] {
		existing[r.SourceID] = true
	}
	for _, sourceID := range job.SourceIDs {
		if existing[sourceID] {
			continue
		}
		existing[sourceID] = true
		s.results[jobID] = append(s.results[jobID], &domain.SourceResult{
			ID:        uuid.NewString(),
			JobID:     jobID,
			SourceID:  sourceID,
			Status:    domain.SourceStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	started := now
	job.Status = domain.JobStatusRunning
	job.StartedAt = &started
	job.UpdatedAt = now
	return copyJob(job), copyResults(s.results[jobID]), true, nil
}

func (s *Store) result(jobID, sourceID string) (*domain.SourceResult, error) {
	for _, r := range s.results[jobID] {
		if r.SourceID == sourceID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: job %s source %s", domain.ErrResultNotFound, jobID, sourceID)
}

// StartSource implements the orchestrator's job store contract.
func (s *Store) StartSource(_ context.Context, jobID, sourceID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.result(jobID, sourceID)
	if err != nil {
		return false, err
	}
	if r.Status.IsSettled() {
		return false, nil
	}
	started := now
	r.Status = domain.SourceStatusRunning
	r.StartedAt = &started
	r.UpdatedAt = now
	return true, nil
}

// SettleSource implements the orchestrator's job store contract.
func (s *Store) SettleSource(
	_ context.Context,
	jobID, sourceID string,
	outcome domain.SourceOutcome,
	now time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.result(jobID, sourceID)
	if err != nil {
		return false, err
	}
	if r.Status.IsSettled() {
		return false, nil
	}

	finished := now
	r.Status = outcome.Status
	r.Counters = outcome.Counters
	r.Strategy = optional(outcome.Strategy)
	r.ErrorMessage = optional(outcome.ErrorMessage)
	r.FinishedAt = &finished
	r.UpdatedAt = now
	return true, nil
}

// CancelJob implements the orchestrator's job store contract.
func (s *Store) CancelJob(_ context.Context, jobID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if job.Status != domain.JobStatusPending && job.Status != domain.JobStatusRunning {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = now
	return true, nil
}

// Finalize implements the orchestrator's job store contract.
func (s *Store) Finalize(_ context.Context, jobID string, now time.Time) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if job.IsFinalized() {
		return copyJob(job), false, nil
	}

	results := s.results[jobID]
	if len(results) == 0 {
		if job.Status != domain.JobStatusCancelled {
			return copyJob(job), false, nil
		}
		finished := now
		job.FinishedAt = &finished
		job.UpdatedAt = now
		return copyJob(job), true, nil
	}

	agg, err := domain.Aggregate(job.Status, results)
	if err != nil {
		return nil, false, fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	job.Counters = agg.Counters
	job.Status = agg.Status
	job.UpdatedAt = now
	if agg.Terminal {
		finished := now
		job.FinishedAt = &finished
		job.ErrorSummary = optional(agg.ErrorSummary)
	}
	return copyJob(job), agg.Terminal, nil
}

// ForceFail implements the orchestrator's job store contract.
func (s *Store) ForceFail(_ context.Context, jobID, message string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if job.IsFinalized() {
		return nil
	}
	finished := now
	job.Status = domain.JobStatusFailed
	job.FinishedAt = &finished
	job.ErrorSummary = &message
	job.UpdatedAt = now
	return nil
}

// SetTaskHandle implements the orchestrator's job store contract.
func (s *Store) SetTaskHandle(_ context.Context, jobID, sourceID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.result(jobID, sourceID)
	if err != nil {
		return err
	}
	r.TaskHandle = &handle
	if job, ok := s.jobs[jobID]; ok && len(job.SourceIDs) == 1 {
		job.TaskHandle = &handle
	}
	return nil
}

// PutSource stores or replaces a source.
func (s *Store) PutSource(src *domain.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *src
	cp.CrawlerConfig = src.CrawlerConfig.Clone()
	cp.PaginationMemory = src.PaginationMemory.Clone()
	s.sources[src.ID] = &cp
}

// GetSource returns a copy of the source.
func (s *Store) GetSource(_ context.Context, sourceID string) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID)
	}
	cp := *src
	cp.CrawlerConfig = src.CrawlerConfig.Clone()
	cp.PaginationMemory = src.PaginationMemory.Clone()
	return &cp, nil
}

// UpdatePaginationMemory replaces the source's pagination memory.
func (s *Store) UpdatePaginationMemory(_ context.Context, sourceID string, memory domain.JSONBMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID)
	}
	src.PaginationMemory = memory.Clone()
	src.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCrawlStats applies one crawl's statistics to the source.
func (s *Store) UpdateCrawlStats(_ context.Context, sourceID string, stats domain.CrawlStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, sourceID)
	}
	crawled := stats.CrawledAt
	src.TotalDocuments += stats.NewDocuments
	src.LastCrawledAt = &crawled
	if stats.Success {
		src.LastSuccessAt = &crawled
		src.ConsecutiveErrors = 0
	} else {
		src.ConsecutiveErrors++
	}
	src.UpdatedAt = crawled
	return nil
}

// ExistsByURL reports whether a document with the normalized URL is stored.
func (s *Store) ExistsByURL(_ context.Context, normalizedURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.documents[normalizedURL]
	return ok, nil
}

// Save stores doc unless its normalized URL is already taken.
func (s *Store) Save(_ context.Context, doc *domain.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[doc.NormalizedURL]; ok {
		return "", fmt.Errorf("%w: %s", domain.ErrDuplicateURL, doc.NormalizedURL)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	cp := *doc
	s.documents[doc.NormalizedURL] = &cp
	return doc.ID, nil
}

// Documents returns stored documents ordered by discovery time, then URL.
func (s *Store) Documents() []*domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Document, 0, len(s.documents))
	for _, d := range s.documents {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return out[i].NormalizedURL < out[j].NormalizedURL
	})
	return out
}

func copyJob(j *domain.Job) *domain.Job {
	cp := *j
	cp.SourceIDs = append([]string(nil), j.SourceIDs...)
	cp.Overrides = j.Overrides.Clone()
	return &cp
}

func copyResults(in []*domain.SourceResult) []*domain.SourceResult {
	out := make([]*domain.SourceResult, len(in))
	for i, r := range in {
		cp := *r
		out[i] = &cp
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
