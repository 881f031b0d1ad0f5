package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSteps map[string][]core.StepSpec

func (s staticSteps) Steps(pipeline string) ([]core.StepSpec, error) {
	steps, ok := s[pipeline]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q", pipeline)
	}
	return steps, nil
}

type staticRegistry map[string]core.RepositoryConfig

func (r staticRegistry) Repository(name string) (core.RepositoryConfig, bool) {
	repo, ok := r[name]
	return repo, ok
}

type tempWorkspaces struct {
	t   *testing.T
	err error
}

func (w tempWorkspaces) Create(string) (string, func(), error) {
	if w.err != nil {
		return "", nil, w.err
	}
	return w.t.TempDir(), func() {}, nil
}

type fakeRepos struct {
	verifyErr error
	verified  []string
	mu        sync.Mutex
}

func (r *fakeRepos) CloneURL(u string) (string, error) { return u, nil }
func (r *fakeRepos) Redact(s string) string            { return s }
func (r *fakeRepos) VerifyHead(_ context.Context, _, sha string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, sha)
	return r.verifyErr
}

// pathStore records every state a job passes through.
type pathStore struct {
	*storage.MemoryStore
	mu    sync.Mutex
	paths map[string][]core.JobState
}

func newPathStore() *pathStore {
	return &pathStore{MemoryStore: storage.NewMemoryStore(), paths: map[string][]core.JobState{}}
}

func (s *pathStore) CreateJob(ctx context.Context, job *core.BuildJob) error {
	if err := s.MemoryStore.CreateJob(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	s.paths[job.ID] = []core.JobState{job.State}
	s.mu.Unlock()
	return nil
}

func (s *pathStore) TransitionJob(ctx context.Context, id string, from, to core.JobState, patch core.JobPatch) error {
	if err := s.MemoryStore.TransitionJob(ctx, id, from, to, patch); err != nil {
		return err
	}
	s.mu.Lock()
	s.paths[id] = append(s.paths[id], to)
	s.mu.Unlock()
	return nil
}

func (s *pathStore) path(id string) []core.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.JobState(nil), s.paths[id]...)
}

var jobSeq struct {
	sync.Mutex
	n int
}

func queuedJob(t *testing.T, store core.JobStore, repo string) *core.BuildJob {
	t.Helper()
	jobSeq.Lock()
	jobSeq.n++
	id := fmt.Sprintf("job-%03d", jobSeq.n)
	jobSeq.Unlock()

	job := &core.BuildJob{
		ID:         id,
		Repository: repo,
		CloneURL:   "https://github.com/" + repo + ".git",
		CommitSHA:  "abc123",
		Ref:        "refs/heads/main",
		Pipeline:   "test",
		Trigger:    core.TriggerWebhook,
		State:      core.StateQueued,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func waitForState(t *testing.T, store core.JobStore, id string, want core.JobState) *core.BuildJob {
	t.Helper()
	var job *core.BuildJob
	require.Eventually(t, func() bool {
		var err error
		job, err = store.GetJob(context.Background(), id)
		return err == nil && job.State == want
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

var errBoom = errors.New("boom")
