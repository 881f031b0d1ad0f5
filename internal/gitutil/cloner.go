// Package gitutil provides helpers for working with Git repositories.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Client handles interacting with Git repositories.
type Client struct {
	Logger *slog.Logger
	token  string
}

// NewClient returns a new Client instance. The token, when set, is used for
// HTTPS clones of private repositories.
func NewClient(logger *slog.Logger, token string) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Logger: logger, token: token}
}

// CloneURL returns the URL a checkout step should clone from, with the
// access token embedded for HTTPS remotes.
func (c *Client) CloneURL(repoURL string) (string, error) {
	if c.token == "" {
		return repoURL, nil
	}
	return authenticatedURL(repoURL, c.token)
}

// Redact removes the access token from text such as captured git output.
func (c *Client) Redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, "***")
}

// HeadSHA returns the commit HEAD points at in the repository at path.
func (c *Client) HeadSHA(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD in %s: %w", path, err)
	}
	return head.Hash().String(), nil
}

// ErrHeadMismatch is returned when a checkout produced a different commit
// than the one requested.
var ErrHeadMismatch = errors.New("checked out commit does not match")

// VerifyHead checks that the workspace at path is checked out at sha. A
// short sha matches by prefix.
func (c *Client) VerifyHead(ctx context.Context, path, sha string) error {
	head, err := c.HeadSHA(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(head, strings.ToLower(sha)) {
		return fmt.Errorf("%w: want %s, got %s", ErrHeadMismatch, sha, head)
	}
	c.Logger.DebugContext(ctx, "workspace checked out", "sha", head)
	return nil
}

func authenticatedURL(repoURL, token string) (string, error) {
	// Handle local paths directly. file:// is intentionally unsupported for security.
	if !strings.Contains(repoURL, "://") {
		return repoURL, nil
	}

	if !strings.HasPrefix(repoURL, "https://") && !strings.HasPrefix(repoURL, "http://") {
		return "", fmt.Errorf("invalid repository URL: %s", repoURL)
	}

	parsedURL, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL '%s': %w", repoURL, err)
	}
	parsedURL.User = url.UserPassword("x-access-token", token)
	return parsedURL.String(), nil
}
