// Package github reports build results back to GitHub as commit statuses.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"
)

// Client defines the GitHub operations the service needs.
//
//go:generate mockgen -destination=../../mocks/mock_github_client.go -package=mocks . Client
type Client interface {
	CreateStatus(ctx context.Context, owner, repo, sha string, status *github.RepoStatus) error
}

type gitHubClient struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHubClient wraps the official go-github client to provide a focused,
// testable interface for application-specific GitHub operations.
func NewGitHubClient(client *github.Client, logger *slog.Logger) Client {
	return &gitHubClient{client: client, logger: logger}
}

// NewPATClient creates a new GitHub client authenticated with a Personal Access Token (PAT).
func NewPATClient(ctx context.Context, token string, logger *slog.Logger) Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)
	return &gitHubClient{client: client, logger: logger}
}

// CreateStatus sets a commit status on sha.
func (g *gitHubClient) CreateStatus(ctx context.Context, owner, repo, sha string, status *github.RepoStatus) error {
	u := fmt.Sprintf("repos/%s/%s/statuses/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(sha))
	req, err := g.client.NewRequest(http.MethodPost, u, status)
	if err != nil {
		return fmt.Errorf("failed to build status request: %w", err)
	}
	if _, err := g.client.Do(ctx, req, nil); err != nil {
		g.logger.Error("failed to create commit status", "owner", owner, "repo", repo, "sha", sha, "error", err)
		return err
	}
	return nil
}
