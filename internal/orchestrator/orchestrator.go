package orchestrator

import (
	"context"
	"log/slog"

	"github.com/rancher/git-pull-indep/internal/git"
)

// Orchestrator brings a working tree in sync with its remote: it preserves
// local changes, resolves the requested branch, pulls and updates submodules.
type Orchestrator struct {
	cfg Config
	git git.Executor
	log *slog.Logger
}

// StashIndicator records what happened to uncommitted local changes.
type StashIndicator string

const (
	StashNone              StashIndicator = "none"
	StashStashedUnrestored StashIndicator = "stashed-unrestored"
	StashStashedRestored   StashIndicator = "stashed-restored"
	StashConflict          StashIndicator = "stash-conflict"
)

// Stashed reports whether local changes were stashed during the run.
func (s StashIndicator) Stashed() bool {
	return s != "" && s != StashNone
}

// PullStatus classifies the pull by comparing HEAD before and after.
type PullStatus string

const (
	PullUpToDate PullStatus = "up-to-date"
	PullUpdated  PullStatus = "updated"
)

// PullOutcome is the result of the pull stage.
type PullOutcome struct {
	Status PullStatus
	Head   git.HeadInfo
}

// SubmoduleOutcome lists the submodules whose commit changed, in discovery order.
type SubmoduleOutcome struct {
	Updated []string
}

// Result captures the outcome of a single orchestrator run. It is populated as
// far as the pipeline got, so a failed run still reports its partial state.
type Result struct {
	Branch     *BranchRef
	Pull       PullOutcome
	Submodules SubmoduleOutcome
	Stash      StashIndicator
	StashEntry *git.StashEntry

	// Head is the commit checked out when the run ended. HeadKnown is false
	// when it could not be read.
	Head      git.HeadInfo
	HeadKnown bool

	// RemoteURL is the URL of the configured remote, empty when there is none.
	RemoteURL string

	// Warnings collects degraded-success conditions such as a stash that
	// could not be restored.
	Warnings []string
}

// New returns a configured Orchestrator instance.
func New(cfg Config, gitExecutor git.Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, git: gitExecutor, log: logger}
}

// Run executes the pipeline against the working tree at repoPath. A
// best-effort Result is always returned; a non-nil error is an *Error whose
// Kind names the failed stage.
func (o *Orchestrator) Run(ctx context.Context, repoPath string) (Result, error) {
	result := Result{Stash: StashNone, Pull: PullOutcome{Status: PullUpToDate}}

	if o.git == nil {
		return result, failf(KindRepositoryNotFound, "git executor is required")
	}

	repo, err := o.git.Open(ctx, repoPath)
	if err != nil {
		return result, NewError(KindRepositoryNotFound, err)
	}

	err = o.run(ctx, repo, &result)

	if head, headErr := repo.Head(ctx); headErr != nil {
		if o.log != nil {
			o.log.Warn("could not read current commit", "error", headErr)
		}
	} else if head.Hash != "" {
		result.Head = head
		result.HeadKnown = true
	}

	return result, err
}

func (o *Orchestrator) run(ctx context.Context, repo git.Repository, result *Result) error {
	state := &runState{remote: o.cfg.remote()}

	hasRemote, err := repo.HasRemote(ctx, state.remote)
	if err != nil {
		return failf(KindPullFailure, "lookup remote %s: %w", state.remote, err)
	}
	state.hasRemote = hasRemote
	if hasRemote {
		if url, err := repo.RemoteURL(ctx, state.remote); err == nil {
			result.RemoteURL = url
		}
	}

	entry, err := o.preserveChanges(ctx, repo)
	if err != nil {
		return err
	}
	if entry != nil {
		result.StashEntry = entry
		result.Stash = StashStashedUnrestored
	}

	branch, err := o.resolveBranch(ctx, repo, state)
	if err != nil {
		return err
	}
	result.Branch = branch

	pull, err := o.pull(ctx, repo, state)
	if err != nil {
		return err
	}
	result.Pull = pull

	subs, err := o.updateSubmodules(ctx, repo)
	if err != nil {
		return err
	}
	result.Submodules = subs

	if entry != nil && o.cfg.StashPolicy == StashPolicyRestore {
		indicator, warning := o.restoreChanges(ctx, repo, *entry)
		result.Stash = indicator
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	return nil
}

// runState carries facts discovered by one stage to the ones after it.
type runState struct {
	remote    string
	hasRemote bool
	fetched   bool
}
