package orchestrator

import (
	"context"

	"github.com/rancher/git-pull-indep/internal/git"
	"github.com/rancher/git-pull-indep/internal/refname"
)

// pull fetches the remote and merges the upstream of the current branch. The
// outcome is decided by comparing HEAD before and after, never by git output.
func (o *Orchestrator) pull(ctx context.Context, repo git.Repository, state *runState) (PullOutcome, error) {
	before, err := repo.Head(ctx)
	if err != nil {
		return PullOutcome{}, failf(KindPullFailure, "read HEAD before pull: %w", err)
	}

	if !state.hasRemote {
		if o.log != nil {
			o.log.Warn("no remote configured, skipping pull", "remote", state.remote)
		}
		return PullOutcome{Status: PullUpToDate, Head: before}, nil
	}

	if !state.fetched {
		if err := repo.Fetch(ctx, state.remote); err != nil {
			return PullOutcome{}, failf(KindPullFailure, "fetch %s: %w", state.remote, err)
		}
		state.fetched = true
	}

	if before.Detached {
		if o.log != nil {
			o.log.Info("HEAD is detached, fetched without merging", "commit", before.Hash)
		}
		return PullOutcome{Status: PullUpToDate, Head: before}, nil
	}

	upstream, err := o.upstream(ctx, repo, state, before.Branch)
	if err != nil {
		return PullOutcome{}, err
	}
	if upstream == "" {
		if o.log != nil {
			o.log.Info("branch has no upstream, nothing to merge", "branch", before.Branch)
		}
		return PullOutcome{Status: PullUpToDate, Head: before}, nil
	}

	if err := repo.Merge(ctx, upstream); err != nil {
		if abortErr := repo.AbortMerge(ctx); abortErr != nil && o.log != nil {
			o.log.Warn("failed to abort merge after error", "abort_error", abortErr, "upstream", upstream)
		}
		return PullOutcome{}, failf(KindPullFailure, "merge %s: %w", upstream, err)
	}

	after, err := repo.Head(ctx)
	if err != nil {
		return PullOutcome{}, failf(KindPullFailure, "read HEAD after pull: %w", err)
	}

	outcome := PullOutcome{Status: PullUpToDate, Head: after}
	if after.Hash != before.Hash {
		outcome.Status = PullUpdated
	}

	if o.log != nil {
		o.log.Info("pull complete", "status", string(outcome.Status), "branch", after.Branch, "from", before.Hash, "to", after.Hash)
	}
	return outcome, nil
}

// upstream returns the ref to merge: the configured upstream, else the
// same-named branch on the remote, else "".
func (o *Orchestrator) upstream(ctx context.Context, repo git.Repository, state *runState, branch string) (string, error) {
	upstream, ok, err := repo.Upstream(ctx)
	if err != nil {
		return "", failf(KindPullFailure, "resolve upstream: %w", err)
	}
	if ok {
		return upstream, nil
	}
	if branch == "" {
		return "", nil
	}

	exists, err := repo.RemoteBranchExists(ctx, state.remote, branch)
	if err != nil {
		return "", failf(KindPullFailure, "lookup %s: %w", refname.Tracking(state.remote, branch), err)
	}
	if !exists {
		return "", nil
	}
	return refname.Tracking(state.remote, branch), nil
}
