package core

import (
	"errors"
	"testing"

	"github.com/google/go-github/v73/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushEvent(ref, after string) *github.PushEvent {
	return &github.PushEvent{
		Ref:   github.Ptr(ref),
		After: github.Ptr(after),
		Repo: &github.PushEventRepository{
			FullName: github.Ptr("octo/widgets"),
			CloneURL: github.Ptr("https://github.com/octo/widgets.git"),
		},
	}
}

func TestTriggerFromPush(t *testing.T) {
	t.Run("branch push", func(t *testing.T) {
		trigger, err := TriggerFromPush(pushEvent("refs/heads/main", "abc123"))
		require.NoError(t, err)
		assert.Equal(t, "octo/widgets", trigger.Repository)
		assert.Equal(t, "abc123", trigger.CommitSHA)
		assert.Equal(t, "main", trigger.Branch)
		assert.Equal(t, "https://github.com/octo/widgets.git", trigger.CloneURL)
	})

	t.Run("tag push is not triggering", func(t *testing.T) {
		_, err := TriggerFromPush(pushEvent("refs/tags/v1.0.0", "abc123"))
		assert.True(t, errors.Is(err, ErrNotTriggering))
	})

	t.Run("branch deletion is not triggering", func(t *testing.T) {
		ev := pushEvent("refs/heads/main", "0000000000000000000000000000000000000000")
		ev.Deleted = github.Ptr(true)
		_, err := TriggerFromPush(ev)
		assert.True(t, errors.Is(err, ErrNotTriggering))
	})

	t.Run("zero sha is malformed", func(t *testing.T) {
		_, err := TriggerFromPush(pushEvent("refs/heads/main", "0000000000000000000000000000000000000000"))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotTriggering))
	})

	t.Run("missing repository", func(t *testing.T) {
		ev := pushEvent("refs/heads/main", "abc123")
		ev.Repo = nil
		_, err := TriggerFromPush(ev)
		assert.Error(t, err)
	})
}

func TestTriggerFromPullRequest(t *testing.T) {
	newEvent := func(action string) *github.PullRequestEvent {
		return &github.PullRequestEvent{
			Action: github.Ptr(action),
			Repo: &github.Repository{
				FullName: github.Ptr("octo/widgets"),
				CloneURL: github.Ptr("https://github.com/octo/widgets.git"),
			},
			PullRequest: &github.PullRequest{
				Number: github.Ptr(7),
				Head:   &github.PullRequestBranch{SHA: github.Ptr("def456"), Ref: github.Ptr("feature")},
				Base:   &github.PullRequestBranch{Ref: github.Ptr("master")},
			},
		}
	}

	trigger, err := TriggerFromPullRequest(newEvent("synchronize"))
	require.NoError(t, err)
	assert.Equal(t, "def456", trigger.CommitSHA)
	assert.Equal(t, "refs/pull/7/head", trigger.Ref)
	assert.Equal(t, "master", trigger.Branch)

	_, err = TriggerFromPullRequest(newEvent("closed"))
	assert.True(t, errors.Is(err, ErrNotTriggering))
}
