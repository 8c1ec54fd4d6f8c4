package orchestrator_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rancher/git-pull-indep/internal/git"
	"github.com/rancher/git-pull-indep/internal/orchestrator"
)

type fakeExecutor struct {
	repo    *fakeRepo
	openErr error
	opened  []string
}

func (f *fakeExecutor) Open(_ context.Context, path string) (git.Repository, error) {
	f.opened = append(f.opened, path)
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.repo.path = path
	return f.repo, nil
}

type fakeRepo struct {
	path  string
	calls []string

	dirty    bool
	dirtyErr error
	stashErr error
	stashed  []git.StashEntry
	applyErr error
	dropErr  error
	applied  int
	dropped  int
	discards int

	remotes  map[string]string
	fetchErr error
	fetches  int

	localBranches  map[string]bool
	remoteBranches map[string]bool
	checkoutErr    error
	checkedOut     []string
	created        []string
	tracked        []string

	upstreams    map[string]string
	mergeErr     error
	mergeResults map[string]git.HeadInfo
	merges       []string
	aborts       int

	head    git.HeadInfo
	headErr error

	submodules    []git.Submodule
	statusSeq     [][]git.SubmoduleState
	statusCalls   int
	updateErr     error
	updates       int
	submoduleErr  error
	statusErr     error
	lastSubStatus []git.SubmoduleState
}

func (f *fakeRepo) Path() string { return f.path }

func (f *fakeRepo) IsDirty(context.Context) (bool, error) {
	f.calls = append(f.calls, "status")
	return f.dirty, f.dirtyErr
}

func (f *fakeRepo) StashPush(_ context.Context, message string) (git.StashEntry, error) {
	f.calls = append(f.calls, "stash")
	if f.stashErr != nil {
		return git.StashEntry{}, f.stashErr
	}
	entry := git.StashEntry{Ref: "stash@{0}", Commit: fmt.Sprintf("stash%d", len(f.stashed)), Message: "On main: " + message}
	f.stashed = append(f.stashed, entry)
	f.dirty = false
	return entry, nil
}

func (f *fakeRepo) StashApply(context.Context, git.StashEntry) error {
	f.calls = append(f.calls, "stash-apply")
	f.applied++
	if f.applyErr != nil {
		return f.applyErr
	}
	f.dirty = true
	return nil
}

func (f *fakeRepo) StashDrop(context.Context, git.StashEntry) error {
	f.calls = append(f.calls, "stash-drop")
	if f.dropErr != nil {
		return f.dropErr
	}
	f.dropped++
	return nil
}

func (f *fakeRepo) DiscardWorkingChanges(context.Context) error {
	f.calls = append(f.calls, "discard")
	f.discards++
	return nil
}

func (f *fakeRepo) HasRemote(_ context.Context, remote string) (bool, error) {
	_, ok := f.remotes[remote]
	return ok, nil
}

func (f *fakeRepo) RemoteURL(_ context.Context, remote string) (string, error) {
	url, ok := f.remotes[remote]
	if !ok {
		return "", errors.New("no such remote")
	}
	return url, nil
}

func (f *fakeRepo) Fetch(context.Context, string) error {
	f.calls = append(f.calls, "fetch")
	f.fetches++
	return f.fetchErr
}

func (f *fakeRepo) LocalBranchExists(_ context.Context, branch string) (bool, error) {
	return f.localBranches[branch], nil
}

func (f *fakeRepo) RemoteBranchExists(_ context.Context, remote, branch string) (bool, error) {
	return f.remoteBranches[remote+"/"+branch], nil
}

func (f *fakeRepo) Checkout(_ context.Context, branch string) error {
	f.calls = append(f.calls, "checkout")
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	f.checkedOut = append(f.checkedOut, branch)
	f.head.Branch = branch
	f.head.Detached = false
	return nil
}

func (f *fakeRepo) CheckoutNewBranch(_ context.Context, branch, track string) error {
	f.calls = append(f.calls, "checkout-new")
	if f.checkoutErr != nil {
		return f.checkoutErr
	}
	f.created = append(f.created, branch)
	f.tracked = append(f.tracked, track)
	if f.localBranches == nil {
		f.localBranches = map[string]bool{}
	}
	f.localBranches[branch] = true
	if track != "" {
		if f.upstreams == nil {
			f.upstreams = map[string]string{}
		}
		f.upstreams[branch] = track
	}
	f.head.Branch = branch
	f.head.Detached = false
	return nil
}

func (f *fakeRepo) Upstream(context.Context) (string, bool, error) {
	upstream, ok := f.upstreams[f.head.Branch]
	return upstream, ok, nil
}

func (f *fakeRepo) Merge(_ context.Context, ref string) error {
	f.calls = append(f.calls, "merge")
	f.merges = append(f.merges, ref)
	if f.mergeErr != nil {
		return f.mergeErr
	}
	if next, ok := f.mergeResults[ref]; ok {
		next.Branch = f.head.Branch
		f.head = next
	}
	return nil
}

func (f *fakeRepo) AbortMerge(context.Context) error {
	f.calls = append(f.calls, "merge-abort")
	f.aborts++
	return nil
}

func (f *fakeRepo) Head(context.Context) (git.HeadInfo, error) {
	return f.head, f.headErr
}

func (f *fakeRepo) Submodules(context.Context) ([]git.Submodule, error) {
	return f.submodules, f.submoduleErr
}

func (f *fakeRepo) SubmoduleStatus(context.Context) ([]git.SubmoduleState, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	idx := f.statusCalls
	f.statusCalls++
	if idx >= len(f.statusSeq) {
		return f.lastSubStatus, nil
	}
	f.lastSubStatus = f.statusSeq[idx]
	return f.statusSeq[idx], nil
}

func (f *fakeRepo) UpdateSubmodules(context.Context) error {
	f.calls = append(f.calls, "submodule-update")
	f.updates++
	return f.updateErr
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		remotes: map[string]string{"origin": "https://github.com/rancher/example.git"},
		head:    git.HeadInfo{Hash: "aaa111", Title: "initial commit", Branch: "main"},
		upstreams: map[string]string{
			"main": "origin/main",
		},
	}
}

func indexOf(calls []string, name string) int {
	for i, call := range calls {
		if call == name {
			return i
		}
	}
	return -1
}

func expectKind(err error, kind orchestrator.Kind) {
	GinkgoHelper()
	Expect(err).To(HaveOccurred())
	got, ok := orchestrator.KindOf(err)
	Expect(ok).To(BeTrue(), "expected a tagged error, got %v", err)
	Expect(got).To(Equal(kind))
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx  context.Context
		cfg  orchestrator.Config
		repo *fakeRepo
		exec *fakeExecutor
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = orchestrator.Config{Remote: "origin", StashPolicy: orchestrator.StashPolicyKeep}
		repo = newFakeRepo()
		exec = &fakeExecutor{repo: repo}
	})

	run := func() (orchestrator.Result, error) {
		return orchestrator.New(cfg, exec, nil).Run(ctx, "/work/repo")
	}

	Describe("repository validation", func() {
		It("reports RepositoryNotFound when the path cannot be opened", func() {
			exec.openErr = fmt.Errorf("%w: /work/repo", git.ErrRepositoryNotFound)

			result, err := run()
			expectKind(err, orchestrator.KindRepositoryNotFound)
			Expect(errors.Is(err, git.ErrRepositoryNotFound)).To(BeTrue())
			Expect(result.HeadKnown).To(BeFalse())
			Expect(result.Stash).To(Equal(orchestrator.StashNone))
		})

		It("requires a git executor", func() {
			_, err := orchestrator.New(cfg, nil, nil).Run(ctx, "/work/repo")
			expectKind(err, orchestrator.KindRepositoryNotFound)
		})
	})

	Describe("pulling", func() {
		It("reports up-to-date without stashing or touching submodules", func() {
			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pull.Status).To(Equal(orchestrator.PullUpToDate))
			Expect(result.Stash).To(Equal(orchestrator.StashNone))
			Expect(result.StashEntry).To(BeNil())
			Expect(result.Submodules.Updated).To(BeEmpty())
			Expect(repo.calls).NotTo(ContainElement("stash"))
			Expect(repo.calls).NotTo(ContainElement("submodule-update"))
			Expect(repo.merges).To(Equal([]string{"origin/main"}))
			Expect(result.Head.Hash).To(Equal("aaa111"))
			Expect(result.HeadKnown).To(BeTrue())
			Expect(result.RemoteURL).To(Equal("https://github.com/rancher/example.git"))
			Expect(exec.opened).To(Equal([]string{"/work/repo"}))
		})

		It("reports updated with the new commit when HEAD moves", func() {
			repo.mergeResults = map[string]git.HeadInfo{"origin/main": {Hash: "bbb222", Title: "remote change"}}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pull.Status).To(Equal(orchestrator.PullUpdated))
			Expect(result.Pull.Head).To(Equal(git.HeadInfo{Hash: "bbb222", Title: "remote change", Branch: "main"}))
			Expect(result.Head.Hash).To(Equal("bbb222"))
		})

		It("is idempotent across consecutive runs on a synced repository", func() {
			first, err := run()
			Expect(err).NotTo(HaveOccurred())
			second, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})

		It("falls back to the same-named remote branch when no upstream is configured", func() {
			repo.upstreams = nil
			repo.remoteBranches = map[string]bool{"origin/main": true}

			_, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.merges).To(Equal([]string{"origin/main"}))
		})

		It("treats a branch without any upstream as up-to-date", func() {
			repo.upstreams = nil

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pull.Status).To(Equal(orchestrator.PullUpToDate))
			Expect(repo.merges).To(BeEmpty())
			Expect(repo.fetches).To(Equal(1))
		})

		It("skips the pull when the remote is not configured", func() {
			repo.remotes = nil

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pull.Status).To(Equal(orchestrator.PullUpToDate))
			Expect(result.RemoteURL).To(BeEmpty())
			Expect(repo.fetches).To(BeZero())
			Expect(repo.merges).To(BeEmpty())
		})

		It("uses the configured remote", func() {
			cfg.Remote = "upstream"
			repo.remotes = map[string]string{"upstream": "git@github.com:rancher/example.git"}
			repo.upstreams = nil
			repo.remoteBranches = map[string]bool{"upstream/main": true}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.merges).To(Equal([]string{"upstream/main"}))
			Expect(result.RemoteURL).To(Equal("git@github.com:rancher/example.git"))
		})

		It("only fetches on a detached HEAD", func() {
			repo.head = git.HeadInfo{Hash: "aaa111", Title: "initial commit", Detached: true}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pull.Status).To(Equal(orchestrator.PullUpToDate))
			Expect(repo.fetches).To(Equal(1))
			Expect(repo.merges).To(BeEmpty())
		})

		It("fails with PullFailure when the remote is unreachable", func() {
			repo.fetchErr = errors.New("could not read from remote repository")

			result, err := run()
			expectKind(err, orchestrator.KindPullFailure)
			Expect(err.Error()).To(ContainSubstring("could not read from remote repository"))
			Expect(repo.merges).To(BeEmpty())
			Expect(result.HeadKnown).To(BeTrue())
		})

		It("aborts the merge and fails with PullFailure on conflicts", func() {
			repo.mergeErr = &git.GitError{Args: []string{"merge"}, Output: "CONFLICT (content): Merge conflict in README.md", Err: errors.New("exit status 1")}

			_, err := run()
			expectKind(err, orchestrator.KindPullFailure)
			Expect(repo.aborts).To(Equal(1))
			var gitErr *git.GitError
			Expect(errors.As(err, &gitErr)).To(BeTrue())
		})
	})

	Describe("preserving local changes", func() {
		BeforeEach(func() {
			repo.dirty = true
		})

		It("stashes before any checkout or pull and keeps the stash by default", func() {
			cfg.Branch = "main"
			repo.localBranches = map[string]bool{"main": true}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stash).To(Equal(orchestrator.StashStashedUnrestored))
			Expect(result.StashEntry).NotTo(BeNil())
			Expect(result.StashEntry.Message).To(ContainSubstring(orchestrator.StashMessage))
			Expect(repo.applied).To(BeZero())

			stash := indexOf(repo.calls, "stash")
			Expect(stash).To(BeNumerically(">=", 0))
			Expect(stash).To(BeNumerically("<", indexOf(repo.calls, "checkout")))
			Expect(stash).To(BeNumerically("<", indexOf(repo.calls, "fetch")))
			Expect(stash).To(BeNumerically("<", indexOf(repo.calls, "merge")))
		})

		It("restores and drops the stash when the restore policy is set", func() {
			cfg.StashPolicy = orchestrator.StashPolicyRestore

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stash).To(Equal(orchestrator.StashStashedRestored))
			Expect(result.Warnings).To(BeEmpty())
			Expect(repo.dropped).To(Equal(1))
			Expect(indexOf(repo.calls, "stash-apply")).To(BeNumerically(">", indexOf(repo.calls, "merge")))
		})

		It("records a stash conflict as a degraded success", func() {
			cfg.StashPolicy = orchestrator.StashPolicyRestore
			repo.applyErr = fmt.Errorf("%w: conflict", git.ErrStashConflict)

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stash).To(Equal(orchestrator.StashConflict))
			Expect(result.Warnings).To(HaveLen(1))
			Expect(result.Warnings[0]).To(ContainSubstring("stash@{0}"))
			Expect(repo.discards).To(Equal(1))
			Expect(repo.dropped).To(BeZero())
		})

		It("fails with StashFailure when the stash cannot be created", func() {
			repo.stashErr = errors.New("index.lock exists")

			result, err := run()
			expectKind(err, orchestrator.KindStashFailure)
			Expect(result.Stash).To(Equal(orchestrator.StashNone))
			Expect(repo.fetches).To(BeZero())
		})

		It("fails with StashFailure when nothing was stashed", func() {
			repo.stashErr = git.ErrNothingStashed

			_, err := run()
			expectKind(err, orchestrator.KindStashFailure)
			Expect(errors.Is(err, git.ErrNothingStashed)).To(BeTrue())
		})

		It("keeps the stash indicator when a later stage fails", func() {
			repo.fetchErr = errors.New("unreachable")

			result, err := run()
			expectKind(err, orchestrator.KindPullFailure)
			Expect(result.Stash).To(Equal(orchestrator.StashStashedUnrestored))
		})
	})

	Describe("resolving the branch", func() {
		It("leaves HEAD alone when no branch is requested", func() {
			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Branch).To(BeNil())
			Expect(repo.checkedOut).To(BeEmpty())
			Expect(repo.created).To(BeEmpty())
		})

		It("performs a pure checkout of an existing local branch", func() {
			cfg.Branch = "release/v1"
			repo.localBranches = map[string]bool{"release/v1": true}
			repo.upstreams["release/v1"] = "origin/release/v1"

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Branch).To(Equal(&orchestrator.BranchRef{Name: "release/v1", State: orchestrator.BranchLocal}))
			Expect(repo.checkedOut).To(Equal([]string{"release/v1"}))
			Expect(repo.created).To(BeEmpty())
			Expect(repo.merges).To(Equal([]string{"origin/release/v1"}))
		})

		It("creates exactly one tracking branch for a remote-only branch", func() {
			cfg.Branch = "feature"
			repo.remoteBranches = map[string]bool{"origin/feature": true}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Branch).To(Equal(&orchestrator.BranchRef{Name: "feature", State: orchestrator.BranchRemoteTracking, Created: true}))
			Expect(repo.created).To(Equal([]string{"feature"}))
			Expect(repo.tracked).To(Equal([]string{"origin/feature"}))
			Expect(repo.merges).To(Equal([]string{"origin/feature"}))
			Expect(repo.fetches).To(Equal(1))
		})

		It("creates exactly one new branch at HEAD when the branch exists nowhere", func() {
			cfg.Branch = "scratch"

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Branch).To(Equal(&orchestrator.BranchRef{Name: "scratch", State: orchestrator.BranchAbsent, Created: true}))
			Expect(repo.created).To(Equal([]string{"scratch"}))
			Expect(repo.tracked).To(Equal([]string{""}))
			Expect(repo.merges).To(BeEmpty())
			Expect(result.Pull.Status).To(Equal(orchestrator.PullUpToDate))
		})

		It("normalizes refs/heads prefixes", func() {
			cfg.Branch = "refs/heads/main"
			repo.localBranches = map[string]bool{"main": true}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Branch.Name).To(Equal("main"))
		})

		It("rejects unsafe branch names before running git", func() {
			cfg.Branch = "--orphan"

			_, err := run()
			expectKind(err, orchestrator.KindCheckoutFailure)
			Expect(repo.calls).NotTo(ContainElement("checkout"))
			Expect(repo.calls).NotTo(ContainElement("checkout-new"))
		})

		It("continues from local refs when the pre-checkout fetch fails", func() {
			cfg.Branch = "main"
			repo.localBranches = map[string]bool{"main": true}
			repo.fetchErr = errors.New("offline")

			_, err := run()
			expectKind(err, orchestrator.KindPullFailure)
			Expect(repo.checkedOut).To(Equal([]string{"main"}))
			Expect(repo.fetches).To(Equal(2))
		})

		It("classifies checkouts blocked by local changes", func() {
			cfg.Branch = "main"
			repo.localBranches = map[string]bool{"main": true}
			repo.checkoutErr = &git.GitError{
				Args:   []string{"checkout", "main"},
				Output: "error: Your local changes to the following files would be overwritten by checkout",
				Err:    errors.New("exit status 1"),
			}

			_, err := run()
			expectKind(err, orchestrator.KindDirtyTreeBlocksCheckout)
			Expect(repo.merges).To(BeEmpty())
		})

		It("classifies other checkout failures", func() {
			cfg.Branch = "main"
			repo.localBranches = map[string]bool{"main": true}
			repo.checkoutErr = errors.New("unable to write new index file")

			_, err := run()
			expectKind(err, orchestrator.KindCheckoutFailure)
		})
	})

	Describe("updating submodules", func() {
		It("is a no-op without .gitmodules entries", func() {
			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Submodules.Updated).To(BeEmpty())
			Expect(repo.updates).To(BeZero())
			Expect(repo.statusCalls).To(BeZero())
		})

		It("reports only submodules whose pointer changed or became initialized", func() {
			repo.submodules = []git.Submodule{
				{Name: "vendor-a", Path: "vendor/a"},
				{Name: "vendor-b", Path: "vendor/b"},
				{Name: "vendor-c", Path: "vendor/c"},
			}
			repo.statusSeq = [][]git.SubmoduleState{
				{
					{Path: "vendor/a", Commit: "a1", Initialized: true},
					{Path: "vendor/b", Commit: "b1", Initialized: true},
					{Path: "vendor/c", Commit: "c1", Initialized: false},
				},
				{
					{Path: "vendor/a", Commit: "a1", Initialized: true},
					{Path: "vendor/b", Commit: "b2", Initialized: true},
					{Path: "vendor/c", Commit: "c1", Initialized: true},
					{Path: "vendor/c/nested", Commit: "n1", Initialized: true},
				},
			}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Submodules.Updated).To(Equal([]string{"vendor-b", "vendor-c", "vendor/c/nested"}))
			Expect(repo.updates).To(Equal(1))
		})

		It("reports nothing when re-running on submodules already in place", func() {
			repo.submodules = []git.Submodule{{Name: "lib", Path: "lib"}}
			state := []git.SubmoduleState{{Path: "lib", Commit: "l1", Initialized: true}}
			repo.statusSeq = [][]git.SubmoduleState{state, state}

			result, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Submodules.Updated).To(BeEmpty())
		})

		It("fails the whole run when an update fails", func() {
			repo.submodules = []git.Submodule{{Name: "lib", Path: "lib"}}
			repo.updateErr = errors.New("clone of 'lib' failed")

			_, err := run()
			expectKind(err, orchestrator.KindSubmoduleFailure)
		})

		It("fails when .gitmodules cannot be read", func() {
			repo.submoduleErr = errors.New("malformed .gitmodules")

			_, err := run()
			expectKind(err, orchestrator.KindSubmoduleFailure)
		})
	})

	Describe("reading the final commit", func() {
		It("marks the head unknown when it cannot be read after a failure", func() {
			repo.headErr = errors.New("corrupt HEAD")

			result, err := run()
			expectKind(err, orchestrator.KindPullFailure)
			Expect(result.HeadKnown).To(BeFalse())
		})
	})
})

var _ = Describe("Error", func() {
	It("renders the kind and wrapped error", func() {
		err := orchestrator.NewError(orchestrator.KindPullFailure, errors.New("boom"))
		Expect(err.Error()).To(Equal("PullFailure: boom"))
		Expect(errors.Unwrap(err)).To(MatchError("boom"))
	})

	It("recovers the kind through wrapping", func() {
		err := fmt.Errorf("context: %w", orchestrator.NewError(orchestrator.KindSubmoduleFailure, errors.New("x")))
		kind, ok := orchestrator.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(orchestrator.KindSubmoduleFailure))
	})

	It("reports untagged errors", func() {
		_, ok := orchestrator.KindOf(errors.New("plain"))
		Expect(ok).To(BeFalse())
	})

	It("knows the stash policies", func() {
		Expect(orchestrator.StashPolicyKeep.Valid()).To(BeTrue())
		Expect(orchestrator.StashPolicyRestore.Valid()).To(BeTrue())
		Expect(orchestrator.StashPolicy("drop").Valid()).To(BeFalse())
	})
})
