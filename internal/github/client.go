package gh

import (
	"context"
	"errors"
)

// StatusContext is the context name commit statuses are published under.
const StatusContext = "git-pull-indep"

// CommitState is the state of a commit status.
type CommitState string

const (
	StateSuccess CommitState = "success"
	StateFailure CommitState = "failure"
	StateError   CommitState = "error"
	StatePending CommitState = "pending"
)

// CommitStatus is a status attached to a commit.
type CommitStatus struct {
	SHA         string
	State       CommitState
	Description string
	Context     string
	TargetURL   string
}

// Client exposes the GitHub operations needed to report a run.
type Client interface {
	CreateCommitStatus(ctx context.Context, owner, repo string, status CommitStatus) error
}

// Factory builds a Client authenticated with token.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

// ErrNotGitHubRemote indicates a remote URL does not point at the configured GitHub host.
var ErrNotGitHubRemote = errors.New("github: remote is not hosted on github")

// retryableError wraps a transient API failure.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether err came from a rate limited, timed out or 5xx
// API call. Runs do not retry; the flag lets callers log the failure as
// transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
