// Package relocate moves the running executable out of the repository it is
// about to update and re-executes it from a cache directory.
package relocate

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/otiai10/copy"

	"github.com/rancher/git-pull-indep/internal/orchestrator"
	"github.com/rancher/git-pull-indep/internal/process"
)

const (
	// EnvFromCache marks a process started from the cache copy.
	EnvFromCache = "GIT_PULL_INDEP_FROM_CACHE"
	// EnvRunID carries the run ID across the re-exec.
	EnvRunID = "GIT_PULL_INDEP_RUN_ID"
	// Subdir is the directory under the cache path holding the copy.
	Subdir = "git-pull-indep"
)

// Controller copies the executable payload into CachePath/Subdir and replaces
// the current process with the copy.
type Controller struct {
	CachePath string

	// Executable is the payload to copy. Defaults to the running executable.
	Executable string
	// Args is the original argument vector; Args[1:] is passed through unchanged.
	Args []string
	// Env is the environment handed to the copy. Defaults to os.Environ.
	Env []string
	// Replace swaps the process image for the copy. Defaults to process.Exec.
	Replace process.ExecFunc

	log *slog.Logger
}

// New returns a Controller for the running process.
func New(cachePath string, logger *slog.Logger) *Controller {
	return &Controller{CachePath: cachePath, Args: os.Args, log: logger}
}

func (c *Controller) executable() (string, error) {
	if c.Executable != "" {
		return c.Executable, nil
	}
	return process.Self()
}

func (c *Controller) env() []string {
	if c.Env != nil {
		return c.Env
	}
	return os.Environ()
}

// Dir is the directory the payload is copied into.
func (c *Controller) Dir() string {
	return filepath.Join(c.CachePath, Subdir)
}

// Needed reports whether this process must relocate before touching the
// repository. It is false without a cache path, when the marker is set, or
// when the executable already runs from the cache directory.
func (c *Controller) Needed() (bool, error) {
	if strings.TrimSpace(c.CachePath) == "" {
		return false, nil
	}
	if markerSet(c.env()) {
		return false, nil
	}

	exe, err := c.executable()
	if err != nil {
		return false, orchestrator.NewError(orchestrator.KindRelocationCopyFailure, err)
	}
	inside, err := within(c.Dir(), exe)
	if err != nil {
		return false, orchestrator.NewError(orchestrator.KindRelocationCopyFailure,
			goerr.Wrap(err, "failed to compare executable with cache", goerr.V("executable", exe), goerr.V("cache", c.Dir())))
	}
	return !inside, nil
}

// Copy replaces any previous copy in Dir with the payload and returns the path
// of the new executable.
func (c *Controller) Copy() (string, error) {
	exe, err := c.executable()
	if err != nil {
		return "", orchestrator.NewError(orchestrator.KindRelocationCopyFailure, err)
	}

	dir := c.Dir()
	if err := os.RemoveAll(dir); err != nil {
		return "", orchestrator.NewError(orchestrator.KindRelocationCopyFailure,
			goerr.Wrap(err, "failed to remove previous cache copy", goerr.V("dir", dir)))
	}

	dst := filepath.Join(dir, filepath.Base(exe))
	opts := copy.Options{
		Sync:          true,
		PreserveTimes: true,
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Deep
		},
	}
	if err := copy.Copy(exe, dst, opts); err != nil {
		return "", orchestrator.NewError(orchestrator.KindRelocationCopyFailure,
			goerr.Wrap(err, "failed to copy executable to cache", goerr.V("src", exe), goerr.V("dst", dst)))
	}

	if c.log != nil {
		c.log.Info("copied executable to cache", "src", exe, "dst", dst)
	}
	return dst, nil
}

// Exec replaces the current process with the copy at path. The original
// arguments are passed through and the environment gains the cache marker and
// run ID so the copy does not relocate again. It only returns on failure.
func (c *Controller) Exec(path, runID string) error {
	argv := []string{path}
	if len(c.Args) > 1 {
		argv = append(argv, c.Args[1:]...)
	}

	overrides := []string{EnvFromCache + "=1"}
	if runID != "" {
		overrides = append(overrides, EnvRunID+"="+runID)
	}
	env := process.MergeEnv(c.env(), overrides...)

	execFunc := c.Replace
	if execFunc == nil {
		execFunc = process.Exec
	}

	if c.log != nil {
		c.log.Info("re-executing from cache", "path", path)
	}
	err := execFunc(path, argv, env)
	if err == nil {
		// Only a test double returns without error.
		return nil
	}
	return orchestrator.NewError(orchestrator.KindRelocationExecFailure,
		goerr.Wrap(err, "failed to execute cache copy", goerr.V("path", path)))
}

func markerSet(env []string) bool {
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if ok && key == EnvFromCache && value != "" && value != "0" {
			return true
		}
	}
	return false
}

// within reports whether path lies inside dir after resolving both.
func within(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
