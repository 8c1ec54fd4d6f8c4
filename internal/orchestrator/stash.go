package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rancher/git-pull-indep/internal/git"
)

// preserveChanges stashes tracked and untracked changes when the tree is dirty.
// It returns nil when there was nothing to preserve.
func (o *Orchestrator) preserveChanges(ctx context.Context, repo git.Repository) (*git.StashEntry, error) {
	dirty, err := repo.IsDirty(ctx)
	if err != nil {
		return nil, failf(KindStashFailure, "detect local changes: %w", err)
	}
	if !dirty {
		if o.log != nil {
			o.log.Debug("working tree clean, nothing to stash")
		}
		return nil, nil
	}

	entry, err := repo.StashPush(ctx, StashMessage)
	if err != nil {
		if errors.Is(err, git.ErrNothingStashed) {
			return nil, failf(KindStashFailure, "working tree reported changes but %w", err)
		}
		return nil, failf(KindStashFailure, "stash local changes: %w", err)
	}

	if o.log != nil {
		o.log.Info("stashed local changes", "stash", entry.Ref, "commit", entry.Commit)
	}
	return &entry, nil
}

// restoreChanges applies and drops entry. A conflict resets the tree to HEAD
// and leaves the entry in the stash list; it is reported, never returned.
func (o *Orchestrator) restoreChanges(ctx context.Context, repo git.Repository, entry git.StashEntry) (StashIndicator, string) {
	if err := repo.StashApply(ctx, entry); err != nil {
		conflict := NewError(KindStashRestoreConflict, err)
		if o.log != nil {
			o.log.Warn("stash could not be restored cleanly, leaving it in the stash list", "stash", entry.Ref, "commit", entry.Commit, "error", conflict)
		}
		if discardErr := repo.DiscardWorkingChanges(ctx); discardErr != nil && o.log != nil {
			o.log.Warn("failed to reset working tree after stash conflict", "error", discardErr)
		}
		return StashConflict, fmt.Sprintf("local changes could not be restored and remain stashed as %s (%s)", entry.Ref, entry.Commit)
	}

	if err := repo.StashDrop(ctx, entry); err != nil {
		if o.log != nil {
			o.log.Warn("restored stash but failed to drop it", "stash", entry.Ref, "error", err)
		}
		return StashStashedRestored, fmt.Sprintf("local changes restored but %s was not dropped", entry.Ref)
	}

	if o.log != nil {
		o.log.Info("restored stashed local changes", "commit", entry.Commit)
	}
	return StashStashedRestored, ""
}
