package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/build-warden/internal/core"
)

type interval struct {
	jobID      string
	start, end time.Time
}

// timelineExecutor moves jobs through RUNNING to SUCCEEDED, recording when
// each one ran. Jobs block until released or cancelled.
type timelineExecutor struct {
	store   core.JobStore
	hold    time.Duration
	release chan struct{}

	mu        sync.Mutex
	timelines map[string][]interval
	started   chan string
}

func newTimelineExecutor(store core.JobStore, hold time.Duration) *timelineExecutor {
	return &timelineExecutor{
		store:     store,
		hold:      hold,
		timelines: map[string][]interval{},
		started:   make(chan string, 100),
	}
}

func (e *timelineExecutor) Execute(ctx context.Context, job *core.BuildJob, _ []core.StepSpec) error {
	if err := e.store.TransitionJob(ctx, job.ID, core.StateQueued, core.StateRunning, core.JobPatch{}); err != nil {
		return err
	}
	start := time.Now()
	e.started <- job.ID

	final := core.StateSucceeded
	var wait <-chan struct{}
	if e.release != nil {
		wait = e.release
	}
	select {
	case <-time.After(e.hold):
		if wait != nil {
			select {
			case <-wait:
			case <-ctx.Done():
				final = core.StateCancelled
			}
		}
	case <-ctx.Done():
		final = core.StateCancelled
	}

	e.mu.Lock()
	e.timelines[job.Repository] = append(e.timelines[job.Repository], interval{job.ID, start, time.Now()})
	e.mu.Unlock()

	return e.store.TransitionJob(context.WithoutCancel(ctx), job.ID, core.StateRunning, final, core.JobPatch{})
}

func TestScheduler_SameRepositoryNeverOverlaps(t *testing.T) {
	store := newPathStore()
	exec := newTimelineExecutor(store, 20*time.Millisecond)
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 4, 50, discardLogger())
	s.Start()

	var submitted []*core.BuildJob
	for range 5 {
		for _, repo := range []string{"octo/widgets", "octo/gadgets"} {
			job := queuedJob(t, store, repo)
			require.NoError(t, s.Submit(job))
			submitted = append(submitted, job)
		}
	}
	for _, job := range submitted {
		waitForState(t, store, job.ID, core.StateSucceeded)
	}
	require.NoError(t, s.Stop(5*time.Second))

	exec.mu.Lock()
	defer exec.mu.Unlock()
	for repo, timeline := range exec.timelines {
		require.Len(t, timeline, 5, repo)
		for i := 1; i < len(timeline); i++ {
			assert.False(t, timeline[i].start.Before(timeline[i-1].end), "%s: %s started before %s ended", repo, timeline[i].jobID, timeline[i-1].jobID)
			assert.Less(t, timeline[i-1].jobID, timeline[i].jobID, "%s: submission order kept", repo)
		}
	}
}

func TestScheduler_DifferentRepositoriesRunInParallel(t *testing.T) {
	store := newPathStore()
	exec := newTimelineExecutor(store, time.Hour)
	exec.release = make(chan struct{})
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 2, 10, discardLogger())
	s.Start()

	a := queuedJob(t, store, "octo/widgets")
	b := queuedJob(t, store, "octo/gadgets")
	require.NoError(t, s.Submit(a))
	require.NoError(t, s.Submit(b))

	waitForState(t, store, a.ID, core.StateRunning)
	waitForState(t, store, b.ID, core.StateRunning)

	assert.True(t, s.Cancel(a.ID))
	assert.True(t, s.Cancel(b.ID))
	waitForState(t, store, a.ID, core.StateCancelled)
	waitForState(t, store, b.ID, core.StateCancelled)
	require.NoError(t, s.Stop(5*time.Second))
}

func TestScheduler_Overload(t *testing.T) {
	store := newPathStore()
	exec := newTimelineExecutor(store, time.Hour)
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 1, 2, discardLogger())
	s.Start()

	running := queuedJob(t, store, "octo/widgets")
	require.NoError(t, s.Submit(running))
	waitForState(t, store, running.ID, core.StateRunning)

	require.NoError(t, s.Submit(queuedJob(t, store, "octo/widgets")))
	require.NoError(t, s.Submit(queuedJob(t, store, "octo/gadgets")))

	err := s.Submit(queuedJob(t, store, "octo/other"))
	assert.True(t, errors.Is(err, core.ErrOverloaded))

	pending, active := s.Stats()
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, active)

	_ = s.Stop(100 * time.Millisecond)
}

func TestScheduler_CancelPending(t *testing.T) {
	store := newPathStore()
	exec := newTimelineExecutor(store, time.Hour)
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 1, 10, discardLogger())
	s.Start()

	first := queuedJob(t, store, "octo/widgets")
	second := queuedJob(t, store, "octo/widgets")
	require.NoError(t, s.Submit(first))
	require.NoError(t, s.Submit(second))
	waitForState(t, store, first.ID, core.StateRunning)

	assert.True(t, s.Cancel(second.ID))
	got := waitForState(t, store, second.ID, core.StateCancelled)
	assert.Equal(t, ErrCancelRequested.Error(), got.Reason)
	assert.Equal(t, []core.JobState{core.StateQueued, core.StateCancelled}, store.path(second.ID))

	assert.False(t, s.Cancel("unknown"))
	_ = s.Stop(100 * time.Millisecond)
}

func TestScheduler_StopCancelsAfterGraceAndLeavesPendingQueued(t *testing.T) {
	store := newPathStore()
	exec := newTimelineExecutor(store, time.Hour)
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 1, 10, discardLogger())
	s.Start()

	running := queuedJob(t, store, "octo/widgets")
	pending := queuedJob(t, store, "octo/widgets")
	require.NoError(t, s.Submit(running))
	require.NoError(t, s.Submit(pending))
	waitForState(t, store, running.ID, core.StateRunning)

	err := s.Stop(100 * time.Millisecond)
	assert.Error(t, err, "grace period was exceeded")

	got, getErr := store.GetJob(context.Background(), running.ID)
	require.NoError(t, getErr)
	assert.Equal(t, core.StateCancelled, got.State)

	got, getErr = store.GetJob(context.Background(), pending.ID)
	require.NoError(t, getErr)
	assert.Equal(t, core.StateQueued, got.State, "pending jobs stay queued for the next start")

	assert.True(t, errors.Is(s.Submit(queuedJob(t, store, "octo/widgets")), core.ErrSchedulerStopped))
}

func TestScheduler_StopWaitsForRunningJobs(t *testing.T) {
	store := newPathStore()
	exec := newTimelineExecutor(store, 100*time.Millisecond)
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 1, 10, discardLogger())
	s.Start()

	job := queuedJob(t, store, "octo/widgets")
	require.NoError(t, s.Submit(job))
	<-exec.started

	require.NoError(t, s.Stop(5*time.Second))
	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateSucceeded, got.State)
}

// panickingExecutor panics once the first job it sees is RUNNING and runs
// every later job normally.
type panickingExecutor struct {
	*timelineExecutor
	once sync.Once
}

func (e *panickingExecutor) Execute(ctx context.Context, job *core.BuildJob, steps []core.StepSpec) error {
	panicked := false
	e.once.Do(func() { panicked = true })
	if !panicked {
		return e.timelineExecutor.Execute(ctx, job, steps)
	}
	if err := e.store.TransitionJob(ctx, job.ID, core.StateQueued, core.StateRunning, core.JobPatch{}); err != nil {
		return err
	}
	panic("nil map write")
}

func TestScheduler_PanicFailsJobAndReleasesLane(t *testing.T) {
	store := newPathStore()
	exec := &panickingExecutor{timelineExecutor: newTimelineExecutor(store, 0)}
	s := NewScheduler(exec, store, staticSteps{"test": nil}, 1, 10, discardLogger())
	s.Start()

	broken := queuedJob(t, store, "octo/widgets")
	next := queuedJob(t, store, "octo/widgets")
	require.NoError(t, s.Submit(broken))
	require.NoError(t, s.Submit(next))

	got := waitForState(t, store, broken.ID, core.StateFailed)
	assert.Equal(t, "infrastructure: panic: nil map write", got.Reason)
	assert.Equal(t, []core.JobState{core.StateQueued, core.StateRunning, core.StateFailed}, store.path(broken.ID))

	waitForState(t, store, next.ID, core.StateSucceeded)
	require.NoError(t, s.Stop(5*time.Second))
}
