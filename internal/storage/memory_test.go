package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/build-warden/internal/core"
)

func newJob(id, repo string, created time.Time, delivery string) *core.BuildJob {
	job := &core.BuildJob{
		ID:         id,
		Repository: repo,
		CommitSHA:  "abc123",
		Pipeline:   "maven",
		Trigger:    core.TriggerWebhook,
		State:      core.StateQueued,
		CreatedAt:  created,
	}
	if delivery != "" {
		job.DeliveryID = &delivery
	}
	return job
}

func TestMemoryStore_CreateJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateJob(ctx, newJob("j1", "octo/widgets", time.Now(), "d1")))

	err := s.CreateJob(ctx, newJob("j2", "octo/widgets", time.Now(), "d1"))
	assert.True(t, errors.Is(err, core.ErrDuplicateDelivery))

	manual := newJob("j3", "octo/widgets", time.Now(), "")
	manual.Trigger = core.TriggerManual
	assert.NoError(t, s.CreateJob(ctx, manual))

	running := newJob("j4", "octo/widgets", time.Now(), "")
	running.State = core.StateRunning
	assert.Error(t, s.CreateJob(ctx, running))
}

func TestMemoryStore_TransitionJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", "octo/widgets", time.Now(), "")))

	started := time.Now()
	require.NoError(t, s.TransitionJob(ctx, "j1", core.StateQueued, core.StateRunning, core.JobPatch{StartedAt: &started}))

	err := s.TransitionJob(ctx, "j1", core.StateQueued, core.StateRunning, core.JobPatch{})
	assert.True(t, errors.Is(err, core.ErrInvalidTransition), "stale from state must be rejected")

	err = s.TransitionJob(ctx, "j1", core.StateRunning, core.StateQueued, core.JobPatch{})
	assert.True(t, errors.Is(err, core.ErrInvalidTransition), "illegal edge must be rejected")

	require.NoError(t, s.TransitionJob(ctx, "j1", core.StateRunning, core.StateFailed, core.JobPatch{Reason: "step build failed"}))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, job.State)
	assert.Equal(t, core.SummaryFailure, job.Summary)
	assert.Equal(t, "step build failed", job.Reason)
	assert.NotNil(t, job.FinishedAt)
	assert.NotNil(t, job.StartedAt)

	err = s.TransitionJob(ctx, "j1", core.StateFailed, core.StateRunning, core.JobPatch{})
	assert.True(t, errors.Is(err, core.ErrInvalidTransition), "terminal state must not regress")

	err = s.TransitionJob(ctx, "missing", core.StateQueued, core.StateRunning, core.JobPatch{})
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMemoryStore_ReleaseDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", "octo/widgets", time.Now(), "d1")))

	require.NoError(t, s.TransitionJob(ctx, "j1", core.StateQueued, core.StateCancelled, core.JobPatch{
		Reason:          "overloaded",
		ReleaseDelivery: true,
	}))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.StateCancelled, job.State)
	assert.Nil(t, job.DeliveryID)

	require.NoError(t, s.CreateJob(ctx, newJob("j2", "octo/widgets", time.Now(), "d1")))
	err = s.CreateJob(ctx, newJob("j3", "octo/widgets", time.Now(), "d1"))
	assert.True(t, errors.Is(err, core.ErrDuplicateDelivery))
}

func TestMemoryStore_ConcurrentTransitionHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", "octo/widgets", time.Now(), "")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.TransitionJob(ctx, "j1", core.StateQueued, core.StateRunning, core.JobPatch{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_AppendStepResult(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateJob(ctx, newJob("j1", "octo/widgets", time.Now(), "")))

	err := s.AppendStepResult(ctx, "j1", core.StepResult{Index: 0, Name: "checkout"})
	assert.Error(t, err, "steps are only recorded while running")

	require.NoError(t, s.TransitionJob(ctx, "j1", core.StateQueued, core.StateRunning, core.JobPatch{}))
	require.NoError(t, s.AppendStepResult(ctx, "j1", core.StepResult{Index: 0, Name: "checkout", Outcome: core.OutcomeSucceeded}))
	assert.Error(t, s.AppendStepResult(ctx, "j1", core.StepResult{Index: 2, Name: "test"}), "indexes must be contiguous")
	require.NoError(t, s.AppendStepResult(ctx, "j1", core.StepResult{Index: 1, Name: "build", Outcome: core.OutcomeFailed}))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, job.Steps, 2)
	assert.Equal(t, "j1", job.Steps[1].JobID)

	job.Steps[0].Name = "mutated"
	again, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "checkout", again.Steps[0].Name)
}

func TestMemoryStore_Listing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		repo := "octo/widgets"
		if i%2 == 1 {
			repo = "octo/gadgets"
		}
		require.NoError(t, s.CreateJob(ctx, newJob(fmt.Sprintf("j%d", i), repo, base.Add(time.Duration(i)*time.Minute), "")))
	}
	require.NoError(t, s.TransitionJob(ctx, "j0", core.StateQueued, core.StateCancelled, core.JobPatch{}))
	require.NoError(t, s.TransitionJob(ctx, "j2", core.StateQueued, core.StateRunning, core.JobPatch{}))

	active, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, j := range active {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"j1", "j2", "j3", "j4"}, ids, "oldest first")

	widgets, err := s.ListJobs(ctx, core.JobFilter{Repository: "octo/widgets"})
	require.NoError(t, err)
	require.Len(t, widgets, 3)
	assert.Equal(t, "j4", widgets[0].ID, "newest first")

	running, err := s.ListJobs(ctx, core.JobFilter{State: core.StateRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "j2", running[0].ID)

	limited, err := s.ListJobs(ctx, core.JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
