package orchestrator

import (
	"context"

	"github.com/rancher/git-pull-indep/internal/git"
	"github.com/rancher/git-pull-indep/internal/refname"
)

// BranchState records where a requested branch was found.
type BranchState string

const (
	BranchLocal          BranchState = "local"
	BranchRemoteTracking BranchState = "remote-tracking"
	BranchAbsent         BranchState = "absent"
)

// BranchRef describes the branch the run checked out.
type BranchRef struct {
	Name    string
	State   BranchState
	Created bool
}

// resolveBranch checks out cfg.Branch, preferring an existing local branch,
// then a remote-tracking ref, then creating the branch at HEAD. It is a no-op
// when no branch was requested.
func (o *Orchestrator) resolveBranch(ctx context.Context, repo git.Repository, state *runState) (*BranchRef, error) {
	name := refname.Normalize(o.cfg.Branch)
	if name == "" {
		return nil, nil
	}
	if err := refname.ValidateBranch(name); err != nil {
		return nil, failf(KindCheckoutFailure, "invalid branch %q: %w", name, err)
	}

	if state.hasRemote {
		if err := repo.Fetch(ctx, state.remote); err != nil {
			if o.log != nil {
				o.log.Warn("fetch before checkout failed, continuing with local refs", "remote", state.remote, "error", err)
			}
		} else {
			state.fetched = true
		}
	}

	ref := &BranchRef{Name: name}

	local, err := repo.LocalBranchExists(ctx, name)
	if err != nil {
		return nil, failf(KindCheckoutFailure, "lookup branch %s: %w", name, err)
	}
	if local {
		ref.State = BranchLocal
		if err := repo.Checkout(ctx, name); err != nil {
			return nil, checkoutError(name, err)
		}
		o.logCheckout(ref)
		return ref, nil
	}

	remote := false
	if state.hasRemote {
		remote, err = repo.RemoteBranchExists(ctx, state.remote, name)
		if err != nil {
			return nil, failf(KindCheckoutFailure, "lookup %s: %w", refname.Tracking(state.remote, name), err)
		}
	}

	track := ""
	ref.State = BranchAbsent
	if remote {
		track = refname.Tracking(state.remote, name)
		ref.State = BranchRemoteTracking
	}
	if err := repo.CheckoutNewBranch(ctx, name, track); err != nil {
		return nil, checkoutError(name, err)
	}
	ref.Created = true
	o.logCheckout(ref)
	return ref, nil
}

func (o *Orchestrator) logCheckout(ref *BranchRef) {
	if o.log == nil {
		return
	}
	o.log.Info("checked out branch", "branch", ref.Name, "state", string(ref.State), "created", ref.Created)
}

func checkoutError(branch string, err error) error {
	if git.IsCheckoutBlocked(err) {
		return failf(KindDirtyTreeBlocksCheckout, "checkout %s blocked by local changes: %w", branch, err)
	}
	return failf(KindCheckoutFailure, "checkout %s: %w", branch, err)
}
