package git

import (
	"context"
	"errors"
)

// Executor opens working trees for the sync pipeline.
type Executor interface {
	Open(ctx context.Context, path string) (Repository, error)
}

// Repository exposes the git primitives required by the orchestrator. Read-only
// introspection may be served by a pure Go library; anything that mutates the
// working tree shells out to git so the user's configuration applies.
type Repository interface {
	Path() string

	IsDirty(ctx context.Context) (bool, error)
	StashPush(ctx context.Context, message string) (StashEntry, error)
	StashApply(ctx context.Context, entry StashEntry) error
	StashDrop(ctx context.Context, entry StashEntry) error
	DiscardWorkingChanges(ctx context.Context) error

	HasRemote(ctx context.Context, remote string) (bool, error)
	RemoteURL(ctx context.Context, remote string) (string, error)
	Fetch(ctx context.Context, remote string) error

	LocalBranchExists(ctx context.Context, branch string) (bool, error)
	RemoteBranchExists(ctx context.Context, remote, branch string) (bool, error)
	Checkout(ctx context.Context, branch string) error
	CheckoutNewBranch(ctx context.Context, branch, track string) error

	Upstream(ctx context.Context) (string, bool, error)
	Merge(ctx context.Context, ref string) error
	AbortMerge(ctx context.Context) error

	Head(ctx context.Context) (HeadInfo, error)
	Submodules(ctx context.Context) ([]Submodule, error)
	SubmoduleStatus(ctx context.Context) ([]SubmoduleState, error)
	UpdateSubmodules(ctx context.Context) error
}

// HeadInfo describes the commit HEAD points at.
type HeadInfo struct {
	Hash     string
	Title    string
	Branch   string
	Detached bool
}

// StashEntry identifies a stash created by StashPush.
type StashEntry struct {
	Ref     string
	Commit  string
	Message string
}

// Submodule is a top-level entry from .gitmodules.
type Submodule struct {
	Name string
	Path string
}

// SubmoduleState is one line of `git submodule status --recursive`.
type SubmoduleState struct {
	Path        string
	Commit      string
	Initialized bool
}

var (
	// ErrRepositoryNotFound indicates the path is not a usable git working tree.
	ErrRepositoryNotFound = errors.New("git: repository not found")

	// ErrStashConflict indicates a stash could not be applied cleanly.
	ErrStashConflict = errors.New("git: stash does not apply cleanly")

	// ErrNothingStashed indicates stash push completed without recording an entry.
	ErrNothingStashed = errors.New("git: nothing was stashed")
)
