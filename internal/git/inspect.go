package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// The read-only half of ShellRepository is served by go-git. The repository is
// reopened on each call so refs and packs written by the git binary in between
// are always observed.

func openGoGit(path string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit:          false,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, path)
		}
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return repo, nil
}

func validateWorkingTree(path string) error {
	repo, err := openGoGit(path)
	if err != nil {
		return err
	}
	if _, err := repo.Worktree(); err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return fmt.Errorf("%w: %s is a bare repository", ErrRepositoryNotFound, path)
		}
		return fmt.Errorf("open worktree %s: %w", path, err)
	}
	return nil
}

func (r *ShellRepository) repo() (*gogit.Repository, error) {
	return openGoGit(r.path)
}

// Head resolves HEAD to its commit. An unborn branch yields an empty Hash
// with the branch name filled in.
func (r *ShellRepository) Head(ctx context.Context) (HeadInfo, error) {
	repo, err := r.repo()
	if err != nil {
		return HeadInfo{}, err
	}

	symbolic, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return HeadInfo{}, fmt.Errorf("read HEAD: %w", err)
	}

	var info HeadInfo
	if symbolic.Type() == plumbing.SymbolicReference {
		info.Branch = symbolic.Target().Short()
	} else {
		info.Detached = true
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return info, nil
		}
		return HeadInfo{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	info.Hash = ref.Hash().String()

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return HeadInfo{}, fmt.Errorf("read commit %s: %w", info.Hash, err)
	}
	info.Title = firstLine(commit.Message)
	return info, nil
}

func (r *ShellRepository) HasRemote(ctx context.Context, remote string) (bool, error) {
	repo, err := r.repo()
	if err != nil {
		return false, err
	}
	if _, err := repo.Remote(remote); err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup remote %s: %w", remote, err)
	}
	return true, nil
}

func (r *ShellRepository) RemoteURL(ctx context.Context, remote string) (string, error) {
	repo, err := r.repo()
	if err != nil {
		return "", err
	}
	rem, err := repo.Remote(remote)
	if err != nil {
		return "", fmt.Errorf("lookup remote %s: %w", remote, err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no url", remote)
	}
	return urls[0], nil
}

func (r *ShellRepository) LocalBranchExists(ctx context.Context, branch string) (bool, error) {
	return r.referenceExists(plumbing.NewBranchReferenceName(branch))
}

func (r *ShellRepository) RemoteBranchExists(ctx context.Context, remote, branch string) (bool, error) {
	return r.referenceExists(plumbing.NewRemoteReferenceName(remote, branch))
}

func (r *ShellRepository) referenceExists(name plumbing.ReferenceName) (bool, error) {
	repo, err := r.repo()
	if err != nil {
		return false, err
	}
	if _, err := repo.Reference(name, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup %s: %w", name, err)
	}
	return true, nil
}

// Submodules lists the entries of the top-level .gitmodules file. A missing
// file yields no entries.
func (r *ShellRepository) Submodules(ctx context.Context) ([]Submodule, error) {
	repo, err := r.repo()
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	subs, err := wt.Submodules()
	if err != nil {
		return nil, fmt.Errorf("read .gitmodules: %w", err)
	}

	out := make([]Submodule, 0, len(subs))
	for _, sub := range subs {
		cfg := sub.Config()
		out = append(out, Submodule{Name: cfg.Name, Path: cfg.Path})
	}
	return out, nil
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return strings.TrimSpace(message[:idx])
	}
	return message
}
