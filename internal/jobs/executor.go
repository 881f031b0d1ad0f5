// Package jobs runs build jobs: the executor drives one job's steps, the
// scheduler decides when jobs run, and recovery reconciles jobs left behind
// by a previous process.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/logger"
	"github.com/sevigo/build-warden/internal/metrics"
)

// Reasons recorded on jobs that ended without running to completion.
var (
	ErrCancelRequested = errors.New("cancelled by request")
	ErrShutdown        = errors.New("cancelled: service shutting down")
)

const infrastructurePrefix = "infrastructure: "

// DefaultEnvAllowList names the host environment variables passed to steps.
var DefaultEnvAllowList = []string{
	"PATH", "HOME", "USER", "LANG", "LC_ALL", "TZ", "TMPDIR",
	"JAVA_HOME", "MAVEN_HOME", "M2_HOME", "GRADLE_HOME", "GRADLE_USER_HOME",
	"GOPATH", "GOROOT", "GOCACHE", "GOMODCACHE", "GOPROXY", "GOFLAGS",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY",
}

// Workspaces hands out a fresh directory per job.
type Workspaces interface {
	Create(jobID string) (string, func(), error)
}

// Repositories prepares checkouts: it authenticates clone URLs, scrubs
// credentials from captured output, and confirms the checked-out commit.
type Repositories interface {
	CloneURL(repoURL string) (string, error)
	Redact(s string) string
	VerifyHead(ctx context.Context, path, sha string) error
}

// Notifier is told when a job starts running and when it finishes.
type Notifier interface {
	JobStarted(ctx context.Context, job *core.BuildJob)
	JobFinished(ctx context.Context, job *core.BuildJob)
}

// ExecutorConfig holds the limits applied to every job.
type ExecutorConfig struct {
	JobTimeout   time.Duration
	OutputLimit  int
	EnvAllowList []string
	// Notifier is optional.
	Notifier Notifier
}

// Executor is the core.JobExecutor. It persists every state change and step
// result through the JobStore as the job progresses.
type Executor struct {
	store      core.JobStore
	runner     core.ProcessRunner
	workspaces Workspaces
	repos      Repositories
	cfg        ExecutorConfig
	logger     *slog.Logger
	now        func() time.Time
}

var _ core.JobExecutor = (*Executor)(nil)

// NewExecutor creates an Executor.
func NewExecutor(store core.JobStore, runner core.ProcessRunner, workspaces Workspaces, repos Repositories, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.EnvAllowList == nil {
		cfg.EnvAllowList = DefaultEnvAllowList
	}
	return &Executor{
		store:      store,
		runner:     runner,
		workspaces: workspaces,
		repos:      repos,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// run carries the mutable state of one execution.
type run struct {
	job       *core.BuildJob
	steps     []core.StepSpec
	recorded  int
	state     core.JobState
	reason    string
	infraKind string
}

// Execute runs the steps of a QUEUED job to a terminal state. Build failures,
// timeouts and cancellations are recorded on the job and are not errors; an
// error is returned only when the job could not be started or its outcome
// could not be persisted.
func (e *Executor) Execute(ctx context.Context, job *core.BuildJob, steps []core.StepSpec) error {
	ctx = logger.WithJobID(ctx, job.ID)
	// Store writes must land even after the job context is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	started := e.now()
	if err := e.store.TransitionJob(storeCtx, job.ID, core.StateQueued, core.StateRunning, core.JobPatch{StartedAt: &started}); err != nil {
		return fmt.Errorf("failed to start job %s: %w", job.ID, err)
	}
	e.logger.InfoContext(ctx, "job started",
		"repository", job.Repository,
		"commit", job.CommitSHA,
		"pipeline", job.Pipeline,
		"steps", len(steps),
	)
	if n := e.cfg.Notifier; n != nil {
		running := job.Clone()
		running.State = core.StateRunning
		running.StartedAt = &started
		n.JobStarted(ctx, running)
	}

	r := &run{job: job, steps: steps, state: core.StateSucceeded}
	if err := e.execute(ctx, storeCtx, r); err != nil {
		return err
	}
	return e.finish(ctx, storeCtx, r, started)
}

func (e *Executor) execute(ctx, storeCtx context.Context, r *run) error {
	if len(r.steps) == 0 {
		r.infrastructure("pipeline", fmt.Errorf("pipeline %q has no steps", r.job.Pipeline))
		return nil
	}

	jobCtx := ctx
	if e.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, e.cfg.JobTimeout)
		defer cancel()
	}

	dir, cleanup, err := e.workspaces.Create(r.job.ID)
	if err != nil {
		r.infrastructure("workspace", err)
		return nil
	}
	defer cleanup()

	cloneURL, err := e.repos.CloneURL(r.job.CloneURL)
	if err != nil {
		r.infrastructure("clone_url", err)
		return nil
	}

	for i, step := range r.steps {
		if err := jobCtx.Err(); err != nil {
			r.interrupted(jobCtx, e.cfg.JobTimeout)
			return nil
		}

		result, err := e.runStep(jobCtx, r.job, i, step, dir, cloneURL)
		if err != nil {
			r.infrastructure("process", err)
			result.Outcome = core.OutcomeFailed
		}
		if err := e.record(storeCtx, r, result); err != nil {
			return err
		}

		switch result.Outcome {
		case core.OutcomeSucceeded:
			if step.Name == "checkout" {
				if err := e.repos.VerifyHead(ctx, dir, r.job.CommitSHA); err != nil {
					e.logger.WarnContext(ctx, "checkout did not produce the requested commit", "error", err)
				}
			}
			continue
		case core.OutcomeTimedOut:
			r.state = core.StateTimedOut
			if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
				r.reason = fmt.Sprintf("job exceeded its timeout of %s during step %q", e.cfg.JobTimeout, step.Name)
			} else {
				r.reason = fmt.Sprintf("step %q exceeded its timeout of %s", step.Name, step.Timeout)
			}
		case core.OutcomeCancelled:
			r.interrupted(jobCtx, e.cfg.JobTimeout)
		default:
			if r.infraKind == "" {
				r.state = core.StateFailed
				r.reason = fmt.Sprintf("step %q exited with code %d", step.Name, result.ExitCode)
			}
		}
		return nil
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, job *core.BuildJob, index int, step core.StepSpec, dir, cloneURL string) (core.StepResult, error) {
	started := e.now()
	result := core.StepResult{
		Index:     index,
		Name:      step.Name,
		Command:   strings.Join(step.Command, " "),
		ExitCode:  -1,
		StartedAt: &started,
	}

	timeout := step.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}

	e.logger.InfoContext(ctx, "running step", "step", step.Name, "index", index, "timeout", timeout)
	out, err := e.runner.Run(ctx, core.Command{
		Name:        step.Command[0],
		Args:        step.Command[1:],
		Dir:         dir,
		Env:         e.stepEnv(job, step, dir, cloneURL),
		Timeout:     timeout,
		OutputLimit: e.cfg.OutputLimit,
	})
	if err != nil {
		result.Output = e.repos.Redact(err.Error())
		result.Duration = e.now().Sub(started)
		return result, fmt.Errorf("step %q: %w", step.Name, err)
	}

	result.ExitCode = out.ExitCode
	result.Output = e.repos.Redact(out.Output)
	result.Truncated = out.Truncated
	result.Duration = out.Duration
	result.Outcome = out.Outcome
	metrics.ObserveStep(step.Name, string(out.Outcome), out.Duration)

	e.logger.InfoContext(ctx, "step finished",
		"step", step.Name,
		"outcome", out.Outcome,
		"exit_code", out.ExitCode,
		"duration", out.Duration,
	)
	return result, nil
}

// record persists a step result and advances the recorded step count.
func (e *Executor) record(ctx context.Context, r *run, result core.StepResult) error {
	if err := e.store.AppendStepResult(ctx, r.job.ID, result); err != nil {
		return fmt.Errorf("failed to record step %q of job %s: %w", result.Name, r.job.ID, err)
	}
	r.recorded++
	return nil
}

// finish records unexecuted steps as skipped and moves the job to its
// terminal state.
func (e *Executor) finish(ctx, storeCtx context.Context, r *run, started time.Time) error {
	for i := r.recorded; i < len(r.steps); i++ {
		skipped := core.StepResult{
			Index:    i,
			Name:     r.steps[i].Name,
			Command:  strings.Join(r.steps[i].Command, " "),
			ExitCode: -1,
			Outcome:  core.OutcomeSkipped,
		}
		if err := e.record(storeCtx, r, skipped); err != nil {
			return err
		}
	}

	finished := e.now()
	patch := core.JobPatch{
		Reason:     r.reason,
		FinishedAt: &finished,
		Summary:    core.SummaryFor(r.state),
	}
	if err := e.store.TransitionJob(storeCtx, r.job.ID, core.StateRunning, r.state, patch); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", r.job.ID, err)
	}

	if r.infraKind != "" {
		metrics.IncInfrastructureError(r.infraKind)
		e.logger.ErrorContext(ctx, "job failed on an infrastructure error",
			"alert", true,
			"kind", r.infraKind,
			"reason", r.reason,
		)
	}
	if n := e.cfg.Notifier; n != nil {
		done := r.job.Clone()
		done.State = r.state
		done.Reason = r.reason
		done.Summary = patch.Summary
		done.FinishedAt = &finished
		n.JobFinished(ctx, done)
	}
	metrics.ObserveJobFinished(string(r.state), finished.Sub(started))
	e.logger.InfoContext(ctx, "job finished",
		"state", r.state,
		"reason", r.reason,
		"duration", finished.Sub(started),
	)
	return nil
}

func (r *run) infrastructure(kind string, err error) {
	r.state = core.StateFailed
	r.reason = infrastructurePrefix + err.Error()
	r.infraKind = kind
}

// interrupted classifies a job whose context ended between or during steps.
func (r *run) interrupted(ctx context.Context, jobTimeout time.Duration) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.state = core.StateTimedOut
		r.reason = fmt.Sprintf("job exceeded its timeout of %s", jobTimeout)
		return
	}
	r.state = core.StateCancelled
	r.reason = ErrCancelRequested.Error()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		r.reason = cause.Error()
	}
}

func (e *Executor) stepEnv(job *core.BuildJob, step core.StepSpec, dir, cloneURL string) []string {
	env := make([]string, 0, len(e.cfg.EnvAllowList)+len(step.Env)+6)
	for _, key := range e.cfg.EnvAllowList {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env,
		"BW_JOB_ID="+job.ID,
		"BW_REPOSITORY="+job.Repository,
		"BW_CLONE_URL="+cloneURL,
		"BW_COMMIT="+job.CommitSHA,
		"BW_REF="+job.Ref,
		"BW_WORKSPACE="+dir,
	)
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	return env
}
