package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
)

// ErrNotTriggering marks a well-formed event that should not start a build.
var ErrNotTriggering = errors.New("event does not trigger a build")

// BuildTrigger is a simplified, internal view of a webhook event that may
// start a build.
type BuildTrigger struct {
	Repository string
	CloneURL   string
	CommitSHA  string
	Ref        string
	// Branch is the branch the trigger policy is evaluated against: the
	// pushed branch for push events, the base branch for pull requests.
	Branch string
}

// TriggerFromPush transforms a GitHub PushEvent into a BuildTrigger. It acts
// as an anti-corruption layer, rejecting tag pushes, branch deletions and
// payloads missing the data a build needs.
func TriggerFromPush(event *github.PushEvent) (*BuildTrigger, error) {
	if event.GetDeleted() {
		return nil, fmt.Errorf("%w: branch deletion", ErrNotTriggering)
	}
	ref := event.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") {
		return nil, fmt.Errorf("%w: ref %q is not a branch", ErrNotTriggering, ref)
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetFullName() == "" {
		return nil, fmt.Errorf("repository information is missing from the event")
	}

	sha := event.GetAfter()
	if sha == "" {
		sha = event.GetHeadCommit().GetID()
	}
	if sha == "" || strings.Trim(sha, "0") == "" {
		return nil, fmt.Errorf("push event has no head commit")
	}

	return &BuildTrigger{
		Repository: repo.GetFullName(),
		CloneURL:   repo.GetCloneURL(),
		CommitSHA:  sha,
		Ref:        ref,
		Branch:     strings.TrimPrefix(ref, "refs/heads/"),
	}, nil
}

var buildablePRActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// TriggerFromPullRequest transforms a GitHub PullRequestEvent into a
// BuildTrigger for the pull request head commit.
func TriggerFromPullRequest(event *github.PullRequestEvent) (*BuildTrigger, error) {
	if !buildablePRActions[event.GetAction()] {
		return nil, fmt.Errorf("%w: pull request action %q", ErrNotTriggering, event.GetAction())
	}

	pr := event.GetPullRequest()
	if pr == nil || pr.GetHead() == nil || pr.GetBase() == nil {
		return nil, fmt.Errorf("pull request information is missing from the event")
	}

	repo := event.GetRepo()
	if repo == nil || repo.GetFullName() == "" {
		return nil, fmt.Errorf("repository information is missing from the event")
	}

	sha := pr.GetHead().GetSHA()
	if sha == "" {
		return nil, fmt.Errorf("pull request %d has no head SHA", pr.GetNumber())
	}

	return &BuildTrigger{
		Repository: repo.GetFullName(),
		CloneURL:   repo.GetCloneURL(),
		CommitSHA:  sha,
		Ref:        fmt.Sprintf("refs/pull/%d/head", pr.GetNumber()),
		Branch:     pr.GetBase().GetRef(),
	}, nil
}
