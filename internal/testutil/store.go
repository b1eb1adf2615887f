// Package testutil provides in-memory stand-ins for the pipeline's infrastructure
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/storage"
)

// Store operation names accepted by MemoryStore.FailOn
const (
	OpCreateJob     = "CreateJob"
	OpGetJob        = "GetJob"
	OpTransition    = "Transition"
	OpCompleteJob   = "CompleteJob"
	OpCreateContent = "CreateContent"
	OpGetContent    = "GetContent"
	OpListJobs      = "ListJobs"
	OpListStale     = "ListStaleJobs"
	OpTouch         = "Touch"
	OpPing          = "Ping"
)

// MemoryStore mirrors the PostgreSQL store's transition rules in memory
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]domain.Job
	contents map[string]domain.Content
	byJob    map[string]string
	failures map[string]error
	touches  map[string]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]domain.Job),
		contents: make(map[string]domain.Content),
		byJob:    make(map[string]string),
		failures: make(map[string]error),
		touches:  make(map[string]int),
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Put stores job as is, bypassing transition checks
func (s *MemoryStore) Put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
}

// Contents returns every stored content record
func (s *MemoryStore) Contents() []domain.Content {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Content, 0, len(s.contents))
	for _, c := range s.contents {
		out = append(out, c)
	}
	return out
}

// Touches returns how many heartbeats were recorded for jobID
func (s *MemoryStore) Touches(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touches[jobID]
}

func (s *MemoryStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpCreateJob]; err != nil {
		return err
	}
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: new jobs must be pending, got %s", domain.ErrInvalidTransition, job.Status)
	}
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s already exists", job.JobID)
	}

	s.jobs[job.JobID] = *job
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpGetJob]; err != nil {
		return nil, err
	}

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryStore) Transition(_ context.Context, jobID string, to domain.Status, update domain.TransitionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpTransition]; err != nil {
		return false, err
	}
	if err := domain.ValidateUpdate(to, update); err != nil {
		return false, err
	}
	return s.transitionLocked(jobID, to, update)
}

func (s *MemoryStore) CompleteJob(_ context.Context, jobID string, content *domain.Content) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpCompleteJob]; err != nil {
		return false, err
	}

	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	noop, err := domain.CheckTransition(job.Status, domain.JobStatusCompleted)
	if err != nil || noop {
		return false, err
	}

	s.insertContentLocked(content)
	return s.transitionLocked(jobID, domain.JobStatusCompleted, domain.TransitionUpdate{ResultID: content.ContentID})
}

func (s *MemoryStore) CreateContent(_ context.Context, content *domain.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpCreateContent]; err != nil {
		return err
	}
	s.insertContentLocked(content)
	return nil
}

func (s *MemoryStore) GetContent(_ context.Context, contentID string) (*domain.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpGetContent]; err != nil {
		return nil, err
	}

	content, ok := s.contents[contentID]
	if !ok {
		return nil, domain.ErrContentNotFound
	}
	return &content, nil
}

// ListJobs returns up to PageSize+1 jobs newest first, like the SQL store
func (s *MemoryStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpListJobs]; err != nil {
		return nil, err
	}

	var jobs []domain.Job
	for _, job := range s.jobs {
		if filter.UserID != "" && job.OwnerID != filter.UserID {
			continue
		}
		if filter.Kind != "" && string(job.Kind) != filter.Kind {
			continue
		}
		if filter.Status != "" && string(job.Status) != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(job, filter.Cursor) {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].JobID > jobs[j].JobID
	})

	if len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

func (s *MemoryStore) ListStaleJobs(_ context.Context, status domain.Status, cutoff time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpListStale]; err != nil {
		return nil, err
	}

	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.Status == status && job.UpdatedAt.Before(cutoff) {
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })

	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) Touch(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpTouch]; err != nil {
		return err
	}

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return nil
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	s.touches[jobID]++
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[OpPing]
}

func (s *MemoryStore) transitionLocked(jobID string, to domain.Status, update domain.TransitionUpdate) (bool, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrJobNotFound
	}

	noop, err := domain.CheckTransition(job.Status, to)
	if err != nil || noop {
		return false, err
	}

	now := time.Now().UTC()
	job.Status = to
	job.Error = update.Error
	job.ResultID = update.ResultID
	job.UpdatedAt = now
	switch {
	case to == domain.JobStatusProcessing:
		job.StartedAt = &now
	case to.IsTerminal():
		job.CompletedAt = &now
	}

	s.jobs[jobID] = job
	return true, nil
}

func (s *MemoryStore) insertContentLocked(content *domain.Content) {
	if id, ok := s.byJob[content.JobID]; ok {
		*content = s.contents[id]
		return
	}
	s.contents[content.ContentID] = *content
	s.byJob[content.JobID] = content.ContentID
}

func before(job domain.Job, cursor *storage.JobCursor) bool {
	if job.CreatedAt.Equal(cursor.CreatedAt) {
		return job.JobID < cursor.JobID
	}
	return job.CreatedAt.Before(cursor.CreatedAt)
}
