package refname

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyRemote = errors.New("remote name cannot be empty")
)

// Normalize trims whitespace, removes leading/trailing slashes, and strips
// refs/heads prefixes from a branch name. It returns an empty string when the
// normalized branch would otherwise be empty.
func Normalize(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	if len(branch) >= len("refs/heads/") && strings.EqualFold(branch[:len("refs/heads/")], "refs/heads/") {
		branch = branch[len("refs/heads/"):]
	}

	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	return strings.TrimSpace(branch)
}

// ValidateBranch ensures a branch name is safe to hand to git checkout.
func ValidateBranch(branch string) error {
	if branch == "" {
		return errors.New("branch cannot be empty")
	}

	if strings.HasPrefix(branch, "-") {
		return errors.New("branch cannot start with '-'")
	}

	if strings.ContainsAny(branch, " \t\n\r") {
		return errors.New("branch cannot contain whitespace")
	}

	if strings.Contains(branch, "..") {
		return errors.New("branch cannot contain '..'")
	}

	if strings.ContainsAny(branch, "~^:?*[]@{\\") {
		return errors.New("branch contains forbidden git characters")
	}

	if strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, ".") {
		return errors.New("branch cannot end with '.lock' or '.'")
	}

	if strings.Contains(branch, "//") {
		return errors.New("branch cannot contain empty path components")
	}

	return nil
}

// ValidateRemote applies the same safety checks to a remote name, which git
// also rejects when it contains a slash.
func ValidateRemote(remote string) error {
	if strings.TrimSpace(remote) == "" {
		return errEmptyRemote
	}
	if strings.Contains(remote, "/") {
		return fmt.Errorf("remote %q cannot contain '/'", remote)
	}
	if err := ValidateBranch(remote); err != nil {
		return fmt.Errorf("remote %q: %w", remote, err)
	}
	return nil
}

// Tracking returns the remote-tracking short name for branch, e.g. origin/main.
func Tracking(remote, branch string) string {
	return remote + "/" + branch
}
