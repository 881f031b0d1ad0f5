//go:build unix

package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/build-warden/internal/core"
	"github.com/sevigo/build-warden/internal/gitutil"
	"github.com/sevigo/build-warden/internal/jobs"
	"github.com/sevigo/build-warden/internal/runner"
	"github.com/sevigo/build-warden/internal/storage"
	"github.com/sevigo/build-warden/internal/workspace"
)

type pipelines map[string][]core.StepSpec

func (p pipelines) Steps(name string) ([]core.StepSpec, error) {
	steps, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("unknown pipeline %q", name)
	}
	return steps, nil
}

type repos map[string]core.RepositoryConfig

func (r repos) Repository(name string) (core.RepositoryConfig, bool) {
	repo, ok := r[name]
	return repo, ok
}

func sh(name, script string) core.StepSpec {
	return core.StepSpec{Name: name, Command: []string{"sh", "-c", script}, Timeout: 10 * time.Second}
}

type harness struct {
	store     *storage.MemoryStore
	scheduler *jobs.Scheduler
	ingestor  *Ingestor
}

func newHarness(t *testing.T, p pipelines, r repos, workers, depth int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMemoryStore()
	ws, err := workspace.NewManager(t.TempDir(), false, logger)
	require.NoError(t, err)

	executor := jobs.NewExecutor(store, runner.New(logger), ws, gitutil.NewClient(logger, ""),
		jobs.ExecutorConfig{JobTimeout: time.Minute, OutputLimit: 4096}, logger)
	scheduler := jobs.NewScheduler(executor, store, p, workers, depth, logger)
	scheduler.Start()
	t.Cleanup(func() { _ = scheduler.Stop(5 * time.Second) })

	service := jobs.NewService(store, scheduler, r, logger)
	ingestor := NewIngestor(NewSignatureVerifier(testSecret), NewDeduplicator(100, time.Hour), service, r, logger)
	return &harness{store: store, scheduler: scheduler, ingestor: ingestor}
}

func pushPayload(repo, branch, sha string) []byte {
	return fmt.Appendf(nil, `{
		"ref": "refs/heads/%s",
		"after": %q,
		"deleted": false,
		"head_commit": {"id": %q},
		"repository": {"full_name": %q, "clone_url": "https://github.com/%s.git"}
	}`, branch, sha, sha, repo, repo)
}

func signed(deliveryID, event string, body []byte) Delivery {
	return Delivery{Body: body, DeliveryID: deliveryID, EventType: event, Signature: Sign(testSecret, body)}
}

func (h *harness) waitTerminal(t *testing.T, id string) *core.BuildJob {
	t.Helper()
	var job *core.BuildJob
	require.Eventually(t, func() bool {
		var err error
		job, err = h.store.GetJob(context.Background(), id)
		return err == nil && job.State.IsTerminal()
	}, 15*time.Second, 10*time.Millisecond, "job %s never finished", id)
	return job
}

func (h *harness) jobCount(t *testing.T) int {
	t.Helper()
	all, err := h.store.ListJobs(context.Background(), core.JobFilter{})
	require.NoError(t, err)
	return len(all)
}

func stepOutcomes(job *core.BuildJob) []core.StepOutcome {
	out := make([]core.StepOutcome, len(job.Steps))
	for i, s := range job.Steps {
		out[i] = s.Outcome
	}
	return out
}

func TestIngest_SuccessfulBuild(t *testing.T) {
	h := newHarness(t,
		pipelines{"basic": {sh("checkout", "true"), sh("build", "echo building")}},
		repos{"octo/r1": {Name: "octo/r1", Pipeline: "basic"}},
		2, 10)

	res, err := h.ingestor.Ingest(context.Background(), signed("d-1", "push", pushPayload("octo/r1", "main", "abc123")))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)
	require.NotEmpty(t, res.JobID)

	job := h.waitTerminal(t, res.JobID)
	assert.Equal(t, core.StateSucceeded, job.State)
	assert.Equal(t, core.SummarySuccess, job.Summary)
	assert.Equal(t, "abc123", job.CommitSHA)
	assert.Equal(t, []core.StepOutcome{core.OutcomeSucceeded, core.OutcomeSucceeded}, stepOutcomes(job))
	assert.Contains(t, job.Steps[1].Output, "building")
	require.NotNil(t, job.DeliveryID)
	assert.Equal(t, "d-1", *job.DeliveryID)
}

func TestIngest_ReplayIsDuplicate(t *testing.T) {
	h := newHarness(t,
		pipelines{"basic": {sh("checkout", "true"), sh("build", "true")}},
		repos{"octo/r1": {Name: "octo/r1", Pipeline: "basic"}},
		1, 10)

	delivery := signed("d-1", "push", pushPayload("octo/r1", "main", "abc123"))
	first, err := h.ingestor.Ingest(context.Background(), delivery)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, first.Status)

	replay, err := h.ingestor.Ingest(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, replay.Status)
	assert.Equal(t, http.StatusOK, replay.Status.HTTPStatus())

	h.waitTerminal(t, first.JobID)
	assert.Equal(t, 1, h.jobCount(t))
}

// A replay that slips past the in-memory window (e.g. after a restart) is
// still caught by the store's unique delivery id.
func TestIngest_ReplayAfterDedupReset(t *testing.T) {
	h := newHarness(t,
		pipelines{"basic": {sh("build", "true")}},
		repos{"octo/r1": {Name: "octo/r1", Pipeline: "basic"}},
		1, 10)

	delivery := signed("d-1", "push", pushPayload("octo/r1", "main", "abc123"))
	first, err := h.ingestor.Ingest(context.Background(), delivery)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, first.Status)

	h.ingestor.dedup.Forget("d-1")
	replay, err := h.ingestor.Ingest(context.Background(), delivery)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, replay.Status)

	h.waitTerminal(t, first.JobID)
	assert.Equal(t, 1, h.jobCount(t))
}

func TestIngest_FailingStepSkipsTheRest(t *testing.T) {
	h := newHarness(t,
		pipelines{"full": {sh("checkout", "true"), sh("build", "echo compile error >&2; exit 2"), sh("test", "true")}},
		repos{"octo/r1": {Name: "octo/r1", Pipeline: "full"}},
		1, 10)

	res, err := h.ingestor.Ingest(context.Background(), signed("d-1", "push", pushPayload("octo/r1", "main", "abc123")))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)

	job := h.waitTerminal(t, res.JobID)
	assert.Equal(t, core.StateFailed, job.State)
	assert.Equal(t, core.SummaryFailure, job.Summary)
	assert.Equal(t, []core.StepOutcome{core.OutcomeSucceeded, core.OutcomeFailed, core.OutcomeSkipped}, stepOutcomes(job))
	assert.Equal(t, 2, job.Steps[1].ExitCode)
	assert.Contains(t, job.Steps[1].Output, "compile error")
	assert.Contains(t, job.Reason, "build")
}

func TestIngest_OverloadedQueue(t *testing.T) {
	gate := filepath.Join(t.TempDir(), "release")
	wait := sh("build", `while [ ! -f "$GATE" ]; do sleep 0.02; done`)
	wait.Env = map[string]string{"GATE": gate}

	h := newHarness(t,
		pipelines{"slow": {wait}},
		repos{
			"octo/r1": {Name: "octo/r1", Pipeline: "slow"},
			"octo/r2": {Name: "octo/r2", Pipeline: "slow"},
			"octo/r3": {Name: "octo/r3", Pipeline: "slow"},
		},
		1, 1)
	ctx := context.Background()

	busy, err := h.ingestor.Ingest(ctx, signed("d-1", "push", pushPayload("octo/r1", "main", "aaa111")))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, busy.Status)
	require.Eventually(t, func() bool {
		_, running := h.scheduler.Stats()
		return running == 1
	}, 5*time.Second, 10*time.Millisecond)

	pending, err := h.ingestor.Ingest(ctx, signed("d-2", "push", pushPayload("octo/r2", "main", "bbb222")))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, pending.Status)

	rejected, err := h.ingestor.Ingest(ctx, signed("d-3", "push", pushPayload("octo/r3", "main", "ccc333")))
	require.NoError(t, err)
	assert.Equal(t, StatusOverloaded, rejected.Status)
	assert.Equal(t, http.StatusServiceUnavailable, rejected.Status.HTTPStatus())

	require.NotEmpty(t, rejected.JobID)
	cancelled, err := h.store.GetJob(ctx, rejected.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCancelled, cancelled.State)
	assert.Equal(t, "overloaded", cancelled.Reason)
	assert.Nil(t, cancelled.DeliveryID)
	assert.Equal(t, 3, h.jobCount(t))

	require.NoError(t, os.WriteFile(gate, nil, 0o600))
	assert.Equal(t, core.StateSucceeded, h.waitTerminal(t, busy.JobID).State)
	assert.Equal(t, core.StateSucceeded, h.waitTerminal(t, pending.JobID).State)

	// The sender retries the refused delivery once the queue has drained.
	retried, err := h.ingestor.Ingest(ctx, signed("d-3", "push", pushPayload("octo/r3", "main", "ccc333")))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, retried.Status)
	assert.NotEqual(t, rejected.JobID, retried.JobID)

	job := h.waitTerminal(t, retried.JobID)
	assert.Equal(t, core.StateSucceeded, job.State)
	require.NotNil(t, job.DeliveryID)
	assert.Equal(t, "d-3", *job.DeliveryID)
	assert.Equal(t, 4, h.jobCount(t))

	replay, err := h.ingestor.Ingest(ctx, signed("d-3", "push", pushPayload("octo/r3", "main", "ccc333")))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, replay.Status)
}

func TestIngest_RejectedOutcomes(t *testing.T) {
	h := newHarness(t,
		pipelines{"basic": {sh("build", "true")}},
		repos{"octo/r1": {Name: "octo/r1", Pipeline: "basic", Branches: []string{"main"}}},
		1, 10)
	push := pushPayload("octo/r1", "main", "abc123")

	tests := []struct {
		name     string
		delivery Delivery
		want     Status
	}{
		{
			name:     "bad signature",
			delivery: Delivery{Body: push, DeliveryID: "d-1", EventType: "push", Signature: Sign("wrong", push)},
			want:     StatusUnauthenticated,
		},
		{
			name:     "missing signature",
			delivery: Delivery{Body: push, DeliveryID: "d-2", EventType: "push"},
			want:     StatusUnauthenticated,
		},
		{
			name:     "missing delivery id",
			delivery: signed("", "push", push),
			want:     StatusInvalid,
		},
		{
			name:     "ping",
			delivery: signed("d-3", "ping", []byte(`{"zen":"Keep it logically awesome."}`)),
			want:     StatusIgnored,
		},
		{
			name:     "unsupported event",
			delivery: signed("d-4", "issues", []byte(`{}`)),
			want:     StatusIgnored,
		},
		{
			name:     "malformed json",
			delivery: signed("d-5", "push", []byte(`{"ref":`)),
			want:     StatusInvalid,
		},
		{
			name:     "tag push",
			delivery: signed("d-6", "push", []byte(`{"ref":"refs/tags/v1.0.0","after":"abc123","repository":{"full_name":"octo/r1"}}`)),
			want:     StatusIgnored,
		},
		{
			name:     "unregistered repository",
			delivery: signed("d-7", "push", pushPayload("octo/other", "main", "abc123")),
			want:     StatusIgnored,
		},
		{
			name:     "branch without builds",
			delivery: signed("d-8", "push", pushPayload("octo/r1", "feature/x", "abc123")),
			want:     StatusIgnored,
		},
		{
			name:     "push without commit",
			delivery: signed("d-9", "push", []byte(`{"ref":"refs/heads/main","repository":{"full_name":"octo/r1"}}`)),
			want:     StatusInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.ingestor.Ingest(context.Background(), tt.delivery)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Empty(t, res.JobID)
		})
	}
	assert.Equal(t, 0, h.jobCount(t))
}

func TestIngest_PullRequest(t *testing.T) {
	h := newHarness(t,
		pipelines{"basic": {sh("build", "true")}},
		repos{"octo/r1": {Name: "octo/r1", Pipeline: "basic"}},
		1, 10)

	body := []byte(`{
		"action": "synchronize",
		"number": 7,
		"pull_request": {"number": 7, "head": {"sha": "def456", "ref": "feature"}, "base": {"ref": "main"}},
		"repository": {"full_name": "octo/r1", "clone_url": "https://github.com/octo/r1.git"}
	}`)
	res, err := h.ingestor.Ingest(context.Background(), signed("pr-1", "pull_request", body))
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, res.Status)

	job := h.waitTerminal(t, res.JobID)
	assert.Equal(t, "def456", job.CommitSHA)
	assert.Equal(t, "refs/pull/7/head", job.Ref)

	closed := []byte(`{"action":"closed","pull_request":{"number":7,"head":{"sha":"def456"},"base":{"ref":"main"}},"repository":{"full_name":"octo/r1"}}`)
	res, err = h.ingestor.Ingest(context.Background(), signed("pr-2", "pull_request", closed))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)
}
