package orchestrator

import (
	"context"

	"github.com/rancher/git-pull-indep/internal/git"
)

// updateSubmodules initializes and updates submodules recursively and reports
// those whose commit changed or that became initialized.
func (o *Orchestrator) updateSubmodules(ctx context.Context, repo git.Repository) (SubmoduleOutcome, error) {
	declared, err := repo.Submodules(ctx)
	if err != nil {
		return SubmoduleOutcome{}, failf(KindSubmoduleFailure, "list submodules: %w", err)
	}
	if len(declared) == 0 {
		return SubmoduleOutcome{}, nil
	}

	before, err := repo.SubmoduleStatus(ctx)
	if err != nil {
		return SubmoduleOutcome{}, failf(KindSubmoduleFailure, "read submodule status: %w", err)
	}

	if err := repo.UpdateSubmodules(ctx); err != nil {
		return SubmoduleOutcome{}, failf(KindSubmoduleFailure, "update submodules: %w", err)
	}

	after, err := repo.SubmoduleStatus(ctx)
	if err != nil {
		return SubmoduleOutcome{}, failf(KindSubmoduleFailure, "read submodule status: %w", err)
	}

	outcome := SubmoduleOutcome{Updated: changedSubmodules(declared, before, after)}
	if o.log != nil {
		o.log.Info("submodules updated", "declared", len(declared), "changed", outcome.Updated)
	}
	return outcome, nil
}

func changedSubmodules(declared []git.Submodule, before, after []git.SubmoduleState) []string {
	names := make(map[string]string, len(declared))
	for _, sub := range declared {
		names[sub.Path] = sub.Name
	}

	previous := make(map[string]git.SubmoduleState, len(before))
	for _, state := range before {
		previous[state.Path] = state
	}

	var changed []string
	for _, state := range after {
		prev, seen := previous[state.Path]
		if seen && prev.Commit == state.Commit && prev.Initialized == state.Initialized {
			continue
		}
		if seen && prev.Initialized && !state.Initialized {
			continue
		}

		name := names[state.Path]
		if name == "" {
			name = state.Path
		}
		changed = append(changed, name)
	}
	return changed
}
