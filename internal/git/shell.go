package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	defaultUserName  = "git-pull-indep"
	defaultUserEmail = "git-pull-indep@localhost"
)

// ShellExecutor shells out to the system git binary for every operation that
// mutates a working tree.
type ShellExecutor struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// UserName and UserEmail are the committer identity used for stash and
	// merge commits when the repository has no user.email configured.
	UserName  string
	UserEmail string

	// Ignore lists paths relative to the working tree root that never count
	// as local changes. They are left out of dirty detection, stashes and
	// cleanups.
	Ignore []string
}

// NewShellExecutor returns an Executor backed by system git commands.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) gitBinary() string {
	if e.Git == "" {
		return "git"
	}
	return e.Git
}

// Open validates that path is a non-bare working tree and binds a Repository to it.
func (e *ShellExecutor) Open(ctx context.Context, path string) (Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrRepositoryNotFound)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepositoryNotFound, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRepositoryNotFound, path)
	}

	if err := validateWorkingTree(path); err != nil {
		return nil, err
	}

	return &ShellRepository{executor: e, path: path}, nil
}

// ShellRepository is a Repository bound to a working tree on disk.
type ShellRepository struct {
	executor *ShellExecutor
	path     string

	identityChecked bool
	identity        []string
}

// Path returns the working tree root.
func (r *ShellRepository) Path() string {
	return r.path
}

func (r *ShellRepository) IsDirty(ctx context.Context) (bool, error) {
	args := append([]string{"status", "--porcelain", "--untracked-files=normal", "--ignore-submodules=dirty"}, r.pathspec()...)
	out, err := r.output(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

func (r *ShellRepository) StashPush(ctx context.Context, message string) (StashEntry, error) {
	before, err := r.stashTip(ctx)
	if err != nil {
		return StashEntry{}, err
	}

	args := append(r.identityArgs(ctx), "stash", "push", "--include-untracked", "-m", message)
	args = append(args, r.pathspec()...)
	if err := r.exec(ctx, args...); err != nil {
		return StashEntry{}, fmt.Errorf("git stash push: %w", err)
	}

	// git exits 0 with "No local changes to save"; only a moved refs/stash
	// means this push recorded an entry.
	after, err := r.stashTip(ctx)
	if err != nil {
		return StashEntry{}, err
	}
	if after == "" || after == before {
		return StashEntry{}, ErrNothingStashed
	}

	out, err := r.output(ctx, "stash", "list", "-n", "1", "--format=%gd%x00%H%x00%gs")
	if err != nil {
		return StashEntry{}, fmt.Errorf("git stash list: %w", err)
	}

	fields := strings.Split(strings.TrimSpace(out), "\x00")
	if len(fields) != 3 || fields[1] != after || !strings.Contains(fields[2], message) {
		return StashEntry{}, ErrNothingStashed
	}

	return StashEntry{Ref: fields[0], Commit: fields[1], Message: fields[2]}, nil
}

// stashTip returns the commit refs/stash points at, or "" without stashes.
func (r *ShellRepository) stashTip(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "-q", "--verify", "refs/stash")
	if err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) && strings.TrimSpace(gitErr.Output) == "" {
			return "", nil
		}
		return "", fmt.Errorf("resolve refs/stash: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (r *ShellRepository) StashApply(ctx context.Context, entry StashEntry) error {
	base := r.identityArgs(ctx)
	err := r.exec(ctx, append(base, "stash", "apply", "--index", entry.Commit)...)
	if err == nil {
		return nil
	}

	// The index of a stash only restores when the stashed index applies on
	// top of the new HEAD; retry without it before calling it a conflict.
	var gitErr *GitError
	if errors.As(err, &gitErr) && strings.Contains(gitErr.Output, "--index") {
		if retryErr := r.exec(ctx, append(base, "stash", "apply", entry.Commit)...); retryErr == nil {
			return nil
		} else {
			err = retryErr
		}
	}

	return fmt.Errorf("%w: %w", ErrStashConflict, err)
}

func (r *ShellRepository) StashDrop(ctx context.Context, entry StashEntry) error {
	current, err := r.output(ctx, "rev-parse", "--verify", "--quiet", entry.Ref)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", entry.Ref, err)
	}
	if strings.TrimSpace(current) != entry.Commit {
		return fmt.Errorf("%s no longer points at %s", entry.Ref, entry.Commit)
	}
	if err := r.exec(ctx, "stash", "drop", entry.Ref); err != nil {
		return fmt.Errorf("git stash drop: %w", err)
	}
	return nil
}

func (r *ShellRepository) DiscardWorkingChanges(ctx context.Context) error {
	if err := r.exec(ctx, "reset", "--hard", "HEAD"); err != nil {
		return fmt.Errorf("git reset --hard: %w", err)
	}
	args := []string{"clean", "-fd"}
	for _, path := range r.executor.Ignore {
		args = append(args, "-e", path)
	}
	if err := r.exec(ctx, args...); err != nil {
		return fmt.Errorf("git clean: %w", err)
	}
	return nil
}

func (r *ShellRepository) Fetch(ctx context.Context, remote string) error {
	if err := r.exec(ctx, "fetch", "--recurse-submodules=no", remote); err != nil {
		return fmt.Errorf("git fetch %s: %w", remote, err)
	}
	return nil
}

func (r *ShellRepository) Checkout(ctx context.Context, branch string) error {
	if err := r.exec(ctx, "checkout", branch, "--"); err != nil {
		return fmt.Errorf("git checkout %s: %w", branch, err)
	}
	return nil
}

func (r *ShellRepository) CheckoutNewBranch(ctx context.Context, branch, track string) error {
	args := []string{"checkout", "-b", branch}
	if track != "" {
		args = append(args, "--track", track)
	}
	if err := r.exec(ctx, args...); err != nil {
		return fmt.Errorf("git checkout -b %s: %w", branch, err)
	}
	return nil
}

func (r *ShellRepository) Upstream(ctx context.Context) (string, bool, error) {
	out, err := r.output(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	if err != nil {
		var gitErr *GitError
		if errors.As(err, &gitErr) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve upstream: %w", err)
	}
	upstream := strings.TrimSpace(out)
	return upstream, upstream != "", nil
}

func (r *ShellRepository) Merge(ctx context.Context, ref string) error {
	args := append(r.identityArgs(ctx), "merge", "--no-edit", ref)
	if err := r.exec(ctx, args...); err != nil {
		return fmt.Errorf("git merge %s: %w", ref, err)
	}
	return nil
}

func (r *ShellRepository) AbortMerge(ctx context.Context) error {
	err := r.exec(ctx, "merge", "--abort")
	if err == nil {
		return nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		if strings.Contains(strings.ToLower(gitErr.Output), "no merge to abort") {
			return nil
		}
	}
	return err
}

func (r *ShellRepository) SubmoduleStatus(ctx context.Context) ([]SubmoduleState, error) {
	out, err := r.output(ctx, "submodule", "status", "--recursive")
	if err != nil {
		return nil, fmt.Errorf("git submodule status: %w", err)
	}
	return parseSubmoduleStatus(out), nil
}

func (r *ShellRepository) UpdateSubmodules(ctx context.Context) error {
	if err := r.exec(ctx, "submodule", "sync", "--recursive"); err != nil {
		return fmt.Errorf("git submodule sync: %w", err)
	}
	if err := r.exec(ctx, "submodule", "update", "--init", "--recursive"); err != nil {
		return fmt.Errorf("git submodule update: %w", err)
	}
	return nil
}

// parseSubmoduleStatus reads lines of the form
// "[ -+U]<sha> <path>[ (<describe>)]" preserving their order.
func parseSubmoduleStatus(out string) []SubmoduleState {
	var states []SubmoduleState
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		flag := line[0]
		fields := strings.Fields(line[1:])
		if len(fields) < 2 {
			continue
		}
		states = append(states, SubmoduleState{
			Path:        fields[1],
			Commit:      fields[0],
			Initialized: flag != '-',
		})
	}
	return states
}

// pathspec limits a command to the working tree minus the ignored paths.
func (r *ShellRepository) pathspec() []string {
	if len(r.executor.Ignore) == 0 {
		return nil
	}
	specs := []string{"--", "."}
	for _, path := range r.executor.Ignore {
		specs = append(specs, ":(exclude)"+path)
	}
	return specs
}

// identityArgs returns -c overrides for the committer identity when the
// repository does not configure one. The lookup runs once per repository.
func (r *ShellRepository) identityArgs(ctx context.Context) []string {
	if r.identityChecked {
		return append([]string(nil), r.identity...)
	}
	r.identityChecked = true

	out, err := r.output(ctx, "config", "--get", "user.email")
	if err == nil && strings.TrimSpace(out) != "" {
		return nil
	}

	name := r.executor.UserName
	if name == "" {
		name = defaultUserName
	}
	email := r.executor.UserEmail
	if email == "" {
		email = defaultUserEmail
	}
	r.identity = []string{"-c", "user.name=" + name, "-c", "user.email=" + email}
	return append([]string(nil), r.identity...)
}

func (r *ShellRepository) exec(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

func (r *ShellRepository) output(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"-C", r.path}, args...)
	return r.executor.runGit(ctx, cmd...)
}

// runGit executes git and returns stdout. On failure the returned *GitError
// carries stdout and stderr so callers can classify the failure.
func (e *ShellExecutor) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.gitBinary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &GitError{Args: args, Output: strings.TrimSpace(stderr.String() + "\n" + stdout.String()), Err: err}
	}
	return stdout.String(), nil
}

// GitError wraps failures when invoking the git binary.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsCheckoutBlocked reports whether err is a checkout refused because local
// changes would be overwritten.
func IsCheckoutBlocked(err error) bool {
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	out := gitErr.Output
	return strings.Contains(out, "would be overwritten by checkout") ||
		strings.Contains(out, "Please commit your changes or stash them") ||
		strings.Contains(out, "would be removed by checkout")
}
