package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/build-warden/internal/core"
)

// GitHub rejects descriptions longer than this.
const maxDescriptionLen = 140

const statusTimeout = 10 * time.Second

// StatusReporter publishes job progress as commit statuses. Failures to
// report are logged and never affect the job.
type StatusReporter struct {
	client        Client
	statusContext string
	publicURL     string
	logger        *slog.Logger
}

// NewStatusReporter creates a StatusReporter. statusContext labels the status
// on GitHub; publicURL, when set, links each status to the job in the API.
func NewStatusReporter(client Client, statusContext, publicURL string, logger *slog.Logger) *StatusReporter {
	if statusContext == "" {
		statusContext = "build-warden"
	}
	return &StatusReporter{
		client:        client,
		statusContext: statusContext,
		publicURL:     strings.TrimRight(publicURL, "/"),
		logger:        logger,
	}
}

// JobStarted marks the job's commit as pending.
func (s *StatusReporter) JobStarted(ctx context.Context, job *core.BuildJob) {
	s.post(ctx, job, "pending", "Build running")
}

// JobFinished publishes the terminal outcome of the job.
func (s *StatusReporter) JobFinished(ctx context.Context, job *core.BuildJob) {
	state, description := statusFor(job)
	s.post(ctx, job, state, description)
}

func (s *StatusReporter) post(ctx context.Context, job *core.BuildJob, state, description string) {
	owner, repo, ok := strings.Cut(job.Repository, "/")
	if !ok || owner == "" || repo == "" {
		s.logger.WarnContext(ctx, "cannot report status for repository without owner", "repository", job.Repository)
		return
	}

	status := &github.RepoStatus{
		State:       github.Ptr(state),
		Description: github.Ptr(truncate(description, maxDescriptionLen)),
		Context:     github.Ptr(s.statusContext + "/" + job.Pipeline),
	}
	if s.publicURL != "" {
		status.TargetURL = github.Ptr(s.publicURL + "/api/v1/jobs/" + job.ID)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()
	if err := s.client.CreateStatus(ctx, owner, repo, job.CommitSHA, status); err != nil {
		s.logger.WarnContext(ctx, "failed to report commit status", "state", state, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "reported commit status", "state", state)
}

// statusFor maps a terminal job to a GitHub status state and description.
func statusFor(job *core.BuildJob) (string, string) {
	switch job.State {
	case core.StateSucceeded:
		return "success", "Build succeeded"
	case core.StateFailed:
		if strings.HasPrefix(job.Reason, "infrastructure: ") {
			return "error", "Build could not run: " + strings.TrimPrefix(job.Reason, "infrastructure: ")
		}
		return "failure", describe("Build failed", job.Reason)
	case core.StateTimedOut:
		return "failure", describe("Build timed out", job.Reason)
	case core.StateCancelled:
		return "error", "Build cancelled"
	case core.StateInterrupted:
		return "error", "Build interrupted by a restart"
	default:
		return "pending", fmt.Sprintf("Build %s", strings.ToLower(string(job.State)))
	}
}

func describe(prefix, reason string) string {
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	for len(string(r)) > n-3 {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
