package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/gitutil"
)

// Registry answers which repositories may be built and how.
type Registry interface {
	Repository(name string) (core.RepositoryConfig, bool)
}

// Request describes a build to create.
type Request struct {
	Repository string
	CloneURL   string
	CommitSHA  string
	Ref        string
	// DeliveryID is empty for manual triggers.
	DeliveryID string
	Trigger    core.TriggerKind
}

// Service creates, submits, cancels and lists jobs. It is the single path
// from a trigger (webhook or manual) to a scheduled job.
type Service struct {
	store     core.JobStore
	scheduler core.JobScheduler
	registry  Registry
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService creates a Service.
func NewService(store core.JobStore, scheduler core.JobScheduler, registry Registry, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		scheduler: scheduler,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// Enqueue persists a QUEUED job for req and submits it. When the scheduler
// refuses the job it is moved to CANCELLED and the scheduler's error
// (core.ErrOverloaded or core.ErrSchedulerStopped) is returned with the job.
func (s *Service) Enqueue(ctx context.Context, req Request) (*core.BuildJob, error) {
	repo, ok := s.registry.Repository(req.Repository)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownRepository, req.Repository)
	}
	if req.CommitSHA == "" {
		return nil, errors.New("a commit is required")
	}

	cloneURL := repo.CloneURL
	if cloneURL == "" {
		cloneURL = req.CloneURL
	}
	if cloneURL == "" {
		cloneURL = gitutil.CloneURLFor(repo.Name)
	}

	job := &core.BuildJob{
		ID:         s.newID(),
		Repository: repo.Name,
		CloneURL:   cloneURL,
		CommitSHA:  req.CommitSHA,
		Ref:        req.Ref,
		Pipeline:   repo.Pipeline,
		Trigger:    req.Trigger,
		State:      core.StateQueued,
		CreatedAt:  s.now().UTC(),
	}
	if req.DeliveryID != "" {
		id := req.DeliveryID
		job.DeliveryID = &id
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.scheduler.Submit(job); err != nil {
		reason := "overloaded"
		if !errors.Is(err, core.ErrOverloaded) {
			reason = "rejected: " + err.Error()
		}
		finished := s.now()
		// The delivery id is released so the sender's retry can create a new job.
		tErr := s.store.TransitionJob(context.WithoutCancel(ctx), job.ID, core.StateQueued, core.StateCancelled, core.JobPatch{
			Reason:          reason,
			FinishedAt:      &finished,
			ReleaseDelivery: true,
		})
		if tErr != nil {
			s.logger.ErrorContext(ctx, "failed to cancel rejected job", "job_id", job.ID, "error", tErr)
		} else {
			job.State = core.StateCancelled
			job.Reason = reason
			job.DeliveryID = nil
		}
		return job, err
	}

	s.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"repository", job.Repository,
		"commit", job.CommitSHA,
		"trigger", job.Trigger,
	)
	return job, nil
}

// Resubmit hands already-persisted QUEUED jobs back to the scheduler, in
// order. Jobs the scheduler refuses stay QUEUED for the next start.
func (s *Service) Resubmit(ctx context.Context, jobs []*core.BuildJob) int {
	submitted := 0
	for _, job := range jobs {
		if err := s.scheduler.Submit(job); err != nil {
			s.logger.WarnContext(ctx, "could not resubmit queued job", "job_id", job.ID, "error", err)
			continue
		}
		submitted++
	}
	return submitted
}

// Cancel cancels a pending or running job. It fails with core.ErrNotFound
// for unknown jobs and core.ErrAlreadyFinished for terminal ones.
func (s *Service) Cancel(ctx context.Context, id string) (*core.BuildJob, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return job, core.ErrAlreadyFinished
	}

	if !s.scheduler.Cancel(id) {
		if job.State != core.StateQueued {
			return job, core.ErrAlreadyFinished
		}
		// Persisted but never handed to this scheduler, e.g. refused on resubmit.
		finished := s.now()
		err := s.store.TransitionJob(ctx, id, core.StateQueued, core.StateCancelled, core.JobPatch{
			Reason:     ErrCancelRequested.Error(),
			FinishedAt: &finished,
		})
		if err != nil && !errors.Is(err, core.ErrInvalidTransition) {
			return job, err
		}
	}

	s.logger.InfoContext(ctx, "job cancellation requested", "job_id", id)
	return s.store.GetJob(ctx, id)
}

// Get returns a job with its step results.
func (s *Service) Get(ctx context.Context, id string) (*core.BuildJob, error) {
	return s.store.GetJob(ctx, id)
}

// List returns job summaries, newest first.
func (s *Service) List(ctx context.Context, filter core.JobFilter) ([]*core.BuildJob, error) {
	return s.store.ListJobs(ctx, filter)
}
