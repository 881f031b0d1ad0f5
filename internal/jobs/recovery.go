package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/metrics"
)

// InterruptedReason is recorded on jobs that were running when the previous
// process stopped.
const InterruptedReason = "interrupted: process restarted while job was running"

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	// Interrupted lists jobs moved from RUNNING to INTERRUPTED.
	Interrupted []*core.BuildJob
	// Requeue lists QUEUED jobs, oldest first, that never started and can be
	// submitted again.
	Requeue []*core.BuildJob
}

// RecoveryManager reconciles jobs left non-terminal by a previous process.
// It must run before the scheduler accepts work.
type RecoveryManager struct {
	store  core.JobStore
	steps  StepResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewRecoveryManager creates a RecoveryManager. steps may be nil, in which
// case interrupted jobs keep only the step results recorded before the crash.
func NewRecoveryManager(store core.JobStore, steps StepResolver, logger *slog.Logger) *RecoveryManager {
	return &RecoveryManager{store: store, steps: steps, logger: logger, now: time.Now}
}

// Recover marks every RUNNING job INTERRUPTED and returns the QUEUED jobs for
// resubmission. Interrupted jobs are never retried automatically.
func (m *RecoveryManager) Recover(ctx context.Context) (*RecoveryReport, error) {
	active, err := m.store.ListNonTerminal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	report := &RecoveryReport{}
	for _, job := range active {
		switch job.State {
		case core.StateQueued:
			report.Requeue = append(report.Requeue, job)
		case core.StateRunning:
			if err := m.interrupt(ctx, job); err != nil {
				if errors.Is(err, core.ErrInvalidTransition) {
					m.logger.WarnContext(ctx, "job changed state during recovery, skipping", "job_id", job.ID, "error", err)
					continue
				}
				return report, err
			}
			report.Interrupted = append(report.Interrupted, job)
		}
	}

	metrics.AddInterrupted(len(report.Interrupted))
	m.logger.InfoContext(ctx, "recovery complete",
		"interrupted", len(report.Interrupted),
		"requeue", len(report.Requeue),
	)
	return report, nil
}

func (m *RecoveryManager) interrupt(ctx context.Context, job *core.BuildJob) error {
	if err := m.closeSteps(ctx, job); err != nil {
		return err
	}

	finished := m.now()
	err := m.store.TransitionJob(ctx, job.ID, core.StateRunning, core.StateInterrupted, core.JobPatch{
		Reason:     InterruptedReason,
		FinishedAt: &finished,
		Summary:    core.SummaryInterrupted,
	})
	if err != nil {
		return fmt.Errorf("failed to interrupt job %s: %w", job.ID, err)
	}
	m.logger.WarnContext(ctx, "marked job interrupted",
		"job_id", job.ID,
		"repository", job.Repository,
		"steps_recorded", len(job.Steps),
	)
	return nil
}

// closeSteps records the step that was in flight as cancelled and the rest
// of the pipeline as skipped.
func (m *RecoveryManager) closeSteps(ctx context.Context, job *core.BuildJob) error {
	if m.steps == nil {
		return nil
	}
	full, err := m.store.GetJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", job.ID, err)
	}
	steps, err := m.steps.Steps(full.Pipeline)
	if err != nil {
		m.logger.WarnContext(ctx, "pipeline of interrupted job is no longer configured", "job_id", job.ID, "pipeline", full.Pipeline)
		return nil
	}

	for i := len(full.Steps); i < len(steps); i++ {
		outcome := core.OutcomeSkipped
		if i == len(full.Steps) {
			outcome = core.OutcomeCancelled
		}
		err := m.store.AppendStepResult(ctx, job.ID, core.StepResult{
			Index:    i,
			Name:     steps[i].Name,
			Command:  strings.Join(steps[i].Command, " "),
			ExitCode: -1,
			Outcome:  outcome,
		})
		if err != nil {
			return fmt.Errorf("failed to close step %q of job %s: %w", steps[i].Name, job.ID, err)
		}
	}
	job.Steps = full.Steps
	return nil
}
