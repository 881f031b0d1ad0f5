package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/logger"
	"github.com/sevigo/build-warden/internal/metrics"
)

// StepResolver looks up the step sequence of a named pipeline.
type StepResolver interface {
	Steps(pipeline string) ([]core.StepSpec, error)
}

// lane is the FIFO of pending jobs for one repository. At most one job of a
// lane runs at a time.
type lane struct {
	pending []*core.BuildJob
	busy    bool
	ready   bool // listed in Scheduler.ready
}

// Scheduler implements core.JobScheduler with a fixed pool of workers over
// per-repository FIFO lanes. Jobs for different repositories run in
// parallel; jobs for the same repository never overlap and start in
// submission order.
type Scheduler struct {
	executor core.JobExecutor
	store    core.JobStore
	steps    StepResolver
	logger   *slog.Logger

	maxWorkers int
	queueDepth int

	mu       sync.Mutex
	cond     *sync.Cond
	lanes    map[string]*lane
	ready    []string
	queued   int
	running  map[string]context.CancelCauseFunc
	stopping bool

	baseCtx    context.Context
	cancelBase context.CancelCauseFunc
	wg         sync.WaitGroup
}

var _ core.JobScheduler = (*Scheduler)(nil)

// NewScheduler initializes a Scheduler. Workers start with Start.
// If maxWorkers or queueDepth is 0 or negative, it defaults to 1.
func NewScheduler(executor core.JobExecutor, store core.JobStore, steps StepResolver, maxWorkers, queueDepth int, logger *slog.Logger) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	baseCtx, cancel := context.WithCancelCause(context.Background())
	s := &Scheduler{
		executor:   executor,
		store:      store,
		steps:      steps,
		logger:     logger,
		maxWorkers: maxWorkers,
		queueDepth: queueDepth,
		lanes:      make(map[string]*lane),
		running:    make(map[string]context.CancelCauseFunc),
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker goroutines.
func (s *Scheduler) Start() {
	for i := range s.maxWorkers {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("scheduler started", "workers", s.maxWorkers, "queue_depth", s.queueDepth)
}

// Submit admits a persisted QUEUED job without blocking. It fails with
// core.ErrOverloaded when the pending queue is full.
func (s *Scheduler) Submit(job *core.BuildJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return core.ErrSchedulerStopped
	}
	if s.queued >= s.queueDepth {
		metrics.IncRejected()
		return fmt.Errorf("%w: %d jobs pending", core.ErrOverloaded, s.queued)
	}

	l := s.lanes[job.Repository]
	if l == nil {
		l = &lane{}
		s.lanes[job.Repository] = l
	}
	l.pending = append(l.pending, job.Clone())
	s.queued++
	s.markReady(job.Repository, l)
	metrics.SetQueueDepth(s.queued)

	s.logger.Info("job queued", "job_id", job.ID, "repository", job.Repository, "pending", s.queued)
	s.cond.Signal()
	return nil
}

// Cancel cancels a pending or running job. A pending job is moved to
// CANCELLED immediately; a running job has its context cancelled and is
// finalized by the executor.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	if cancel, ok := s.running[jobID]; ok {
		s.mu.Unlock()
		cancel(ErrCancelRequested)
		return true
	}

	job := s.removePending(jobID)
	s.mu.Unlock()
	if job == nil {
		return false
	}

	now := time.Now()
	err := s.store.TransitionJob(context.Background(), jobID, core.StateQueued, core.StateCancelled, core.JobPatch{
		Reason:     ErrCancelRequested.Error(),
		FinishedAt: &now,
	})
	if err != nil {
		s.logger.Error("failed to cancel pending job", "job_id", jobID, "error", err)
	}
	return true
}

// Stats reports the number of pending and running jobs.
func (s *Scheduler) Stats() (pending, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued, len(s.running)
}

// Stop stops admitting jobs and waits up to grace for running jobs to finish.
// Jobs still running after grace are cancelled. Pending jobs are left QUEUED
// in the store for the next start.
func (s *Scheduler) Stop(grace time.Duration) error {
	s.mu.Lock()
	s.stopping = true
	left := s.queued
	s.cond.Broadcast()
	s.mu.Unlock()

	s.logger.Info("stopping scheduler and waiting for running jobs", "grace", grace, "pending_left_queued", left)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(grace):
		_, running := s.Stats()
		err = fmt.Errorf("%d jobs still running after %s grace period; cancelling", running, grace)
		s.logger.Warn("shutdown grace period exceeded, cancelling running jobs", "running", running)
		s.cancelBase(ErrShutdown)
		<-done
	}
	s.cancelBase(ErrShutdown)
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	s.logger.Debug("starting build worker", "id", id)

	for {
		job, ok := s.next()
		if !ok {
			s.logger.Debug("shutting down build worker", "id", id)
			return
		}
		s.runJob(id, job)
	}
}

// next blocks until a job can run or the scheduler stops. Running jobs
// always drain; pending jobs are not started once stopping.
func (s *Scheduler) next() (*core.BuildJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopping {
			return nil, false
		}
		for len(s.ready) > 0 {
			repo := s.ready[0]
			s.ready = s.ready[1:]
			l := s.lanes[repo]
			l.ready = false
			if l.busy || len(l.pending) == 0 {
				continue
			}
			job := l.pending[0]
			l.pending = l.pending[1:]
			l.busy = true
			s.queued--
			metrics.SetQueueDepth(s.queued)
			return job, true
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) runJob(workerID int, job *core.BuildJob) {
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	ctx = logger.WithJobID(ctx, job.ID)

	s.mu.Lock()
	s.running[job.ID] = cancel
	metrics.SetRunningJobs(len(s.running))
	s.mu.Unlock()

	defer func() {
		cancel(nil)
		s.mu.Lock()
		delete(s.running, job.ID)
		metrics.SetRunningJobs(len(s.running))
		l := s.lanes[job.Repository]
		l.busy = false
		if len(l.pending) > 0 {
			s.markReady(job.Repository, l)
			s.cond.Signal()
		} else {
			delete(s.lanes, job.Repository)
		}
		s.mu.Unlock()
	}()

	defer func() {
		if p := recover(); p != nil {
			s.failPanicked(ctx, job, p)
		}
	}()

	s.logger.InfoContext(ctx, "worker picked up job", "worker_id", workerID, "repository", job.Repository)

	steps, err := s.steps.Steps(job.Pipeline)
	if err != nil {
		// The executor records a job without steps as an infrastructure failure.
		s.logger.ErrorContext(ctx, "failed to resolve pipeline", "pipeline", job.Pipeline, "error", err)
		steps = nil
	}

	if err := s.executor.Execute(ctx, job, steps); err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			s.logger.WarnContext(ctx, "job was no longer queued, skipping", "error", err)
			return
		}
		s.logger.ErrorContext(ctx, "job execution failed", "error", err)
	}
}

// failPanicked records a job whose execution panicked as an infrastructure
// failure. A job that never left QUEUED is cancelled instead.
func (s *Scheduler) failPanicked(ctx context.Context, job *core.BuildJob, p any) {
	reason := fmt.Sprintf("%spanic: %v", infrastructurePrefix, p)
	s.logger.ErrorContext(ctx, "job execution panicked", "panic", p, "alert", true)
	metrics.IncInfrastructureError("panic")

	storeCtx := context.WithoutCancel(ctx)
	finished := time.Now()
	patch := core.JobPatch{Reason: reason, FinishedAt: &finished}
	err := s.store.TransitionJob(storeCtx, job.ID, core.StateRunning, core.StateFailed, patch)
	if errors.Is(err, core.ErrInvalidTransition) {
		err = s.store.TransitionJob(storeCtx, job.ID, core.StateQueued, core.StateCancelled, patch)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record panicked job", "error", err)
	}
}

// markReady must be called with s.mu held.
func (s *Scheduler) markReady(repo string, l *lane) {
	if l.busy || l.ready || len(l.pending) == 0 {
		return
	}
	l.ready = true
	s.ready = append(s.ready, repo)
}

// removePending must be called with s.mu held.
func (s *Scheduler) removePending(jobID string) *core.BuildJob {
	for repo, l := range s.lanes {
		for i, job := range l.pending {
			if job.ID != jobID {
				continue
			}
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			s.queued--
			metrics.SetQueueDepth(s.queued)
			if !l.busy && len(l.pending) == 0 && !l.ready {
				delete(s.lanes, repo)
			}
			return job
		}
	}
	return nil
}
