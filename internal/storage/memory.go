package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sevigo/build-warden/internal/core"
)

// MemoryStore is an in-process JobStore. Nothing survives a restart, so it
// suits tests and local runs with STORAGE_DRIVER=memory.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]*core.BuildJob
	deliveries map[string]string
	now        func() time.Time
}

var _ core.JobStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*core.BuildJob),
		deliveries: make(map[string]string),
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *core.BuildJob) error {
	if err := validateNewJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.DeliveryID != nil {
		if owner, dup := s.deliveries[*job.DeliveryID]; dup {
			return fmt.Errorf("%w: delivery %s belongs to job %s", core.ErrDuplicateDelivery, *job.DeliveryID, owner)
		}
		s.deliveries[*job.DeliveryID] = job.ID
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id string, from, to core.JobState, patch core.JobPatch) error {
	if !core.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if job.State != from {
		return fmt.Errorf("%w: job %s is %s, not %s", core.ErrInvalidTransition, id, job.State, from)
	}

	if patch.ReleaseDelivery && job.DeliveryID != nil {
		delete(s.deliveries, *job.DeliveryID)
	}
	applyPatch(job, to, patch, s.now())
	return nil
}

func (s *MemoryStore) AppendStepResult(_ context.Context, id string, step core.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if job.State != core.StateRunning {
		return fmt.Errorf("%w: cannot record steps for job %s in state %s", core.ErrInvalidTransition, id, job.State)
	}
	if step.Index != len(job.Steps) {
		return fmt.Errorf("step %q has index %d, expected %d", step.Name, step.Index, len(job.Steps))
	}
	step.JobID = id
	job.Steps = append(job.Steps, step)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*core.BuildJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListNonTerminal(_ context.Context) ([]*core.BuildJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.BuildJob
	for _, job := range s.jobs {
		if !job.State.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter core.JobFilter) ([]*core.BuildJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.BuildJob
	for _, job := range s.jobs {
		if filter.Repository != "" && job.Repository != filter.Repository {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		c := job.Clone()
		c.Steps = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
