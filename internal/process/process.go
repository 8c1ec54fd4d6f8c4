// Package process replaces the running process image with another program.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecFunc replaces the current process with binary. It only returns on failure.
type ExecFunc func(binary string, argv []string, env []string) error

// Self returns the path of the running executable with symlinks resolved.
func Self() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve executable %s: %w", path, err)
	}
	return resolved, nil
}

// LookPath resolves target to an executable path. Targets containing a path
// separator are used as-is; bare names are searched in PATH.
func LookPath(target string) (string, error) {
	if target == "" {
		return "", errors.New("empty executable path")
	}
	if !strings.ContainsRune(target, os.PathSeparator) && !strings.ContainsRune(target, '/') {
		return exec.LookPath(target)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", abs)
	}
	return abs, nil
}

// MergeEnv returns env with each KEY=VALUE in overrides replacing any
// existing entry for KEY.
func MergeEnv(env []string, overrides ...string) []string {
	keys := make(map[string]struct{}, len(overrides))
	for _, kv := range overrides {
		key, _, _ := strings.Cut(kv, "=")
		keys[key] = struct{}{}
	}

	merged := make([]string, 0, len(env)+len(overrides))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := keys[key]; replaced {
			continue
		}
		merged = append(merged, kv)
	}
	return append(merged, overrides...)
}
