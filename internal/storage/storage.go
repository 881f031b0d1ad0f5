// Package storage provides JobStore implementations backed by PostgreSQL and
// by process memory.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/sevigo/build-warden/internal/core"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func validateNewJob(job *core.BuildJob) error {
	switch {
	case job == nil:
		return errors.New("job is nil")
	case job.ID == "":
		return errors.New("job id is required")
	case job.Repository == "" || job.CommitSHA == "":
		return fmt.Errorf("job %s needs a repository and a commit", job.ID)
	case job.State != core.StateQueued:
		return fmt.Errorf("%w: new job %s must be %s, got %s", core.ErrInvalidTransition, job.ID, core.StateQueued, job.State)
	}
	return nil
}

// applyPatch moves job to state to and records the patch. Terminal states
// always get a finish time and an exit summary.
func applyPatch(job *core.BuildJob, to core.JobState, patch core.JobPatch, now time.Time) {
	job.State = to
	if patch.Reason != "" {
		job.Reason = patch.Reason
	}
	if patch.ReleaseDelivery {
		job.DeliveryID = nil
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		job.StartedAt = &t
	}
	if to.IsTerminal() {
		finished := now
		if patch.FinishedAt != nil {
			finished = *patch.FinishedAt
		}
		job.FinishedAt = &finished

		job.Summary = patch.Summary
		if job.Summary == "" {
			job.Summary = core.SummaryFor(to)
		}
	}
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
