// Package handoff passes control to the process that initiated the update
// once the run has finished successfully.
package handoff

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rancher/git-pull-indep/internal/orchestrator"
	"github.com/rancher/git-pull-indep/internal/process"
)

// EnvStatusFile tells the successor where the status record was written.
const EnvStatusFile = "GIT_PULL_INDEP_STATUS_FILE"

// Mode is the kind of terminal action.
type Mode string

const (
	// ModeNone exits normally.
	ModeNone Mode = "none"
	// ModeDirectory changes into Target before exiting normally.
	ModeDirectory Mode = "directory"
	// ModeExec replaces the process with Target.
	ModeExec Mode = "exec"
)

// Action is the last thing a run does. It is planned after the status record
// is durable and performed with nothing left to write.
type Action struct {
	Mode   Mode
	Target string
	Argv   []string
	Env    []string
}

// Request describes the run that is about to hand off.
type Request struct {
	Initiator  string
	Args       []string
	Succeeded  bool
	StatusPath string
	Env        []string
}

// Plan decides the terminal action. Failed runs never hand off.
func Plan(req Request) (Action, error) {
	if req.Initiator == "" || !req.Succeeded {
		return Action{Mode: ModeNone}, nil
	}

	if info, err := os.Stat(req.Initiator); err == nil && info.IsDir() {
		return Action{Mode: ModeDirectory, Target: req.Initiator}, nil
	}

	path, err := process.LookPath(req.Initiator)
	if err != nil {
		return Action{}, orchestrator.NewError(orchestrator.KindHandoffExecFailure,
			fmt.Errorf("resolve initiator %s: %w", req.Initiator, err))
	}

	env := req.Env
	if env == nil {
		env = os.Environ()
	}
	argv := append([]string{path}, req.Args...)
	return Action{
		Mode:   ModeExec,
		Target: path,
		Argv:   argv,
		Env:    process.MergeEnv(env, EnvStatusFile+"="+req.StatusPath),
	}, nil
}

// Controller performs planned actions.
type Controller struct {
	Exec  process.ExecFunc
	Chdir func(dir string) error

	log *slog.Logger
}

// NewController returns a Controller that replaces the running process.
func NewController(logger *slog.Logger) *Controller {
	return &Controller{Exec: process.Exec, Chdir: os.Chdir, log: logger}
}

// Perform carries out a. For ModeExec it only returns on failure.
func (c *Controller) Perform(a Action) error {
	switch a.Mode {
	case ModeNone, "":
		return nil
	case ModeDirectory:
		chdir := c.Chdir
		if chdir == nil {
			chdir = os.Chdir
		}
		if err := chdir(a.Target); err != nil {
			return orchestrator.NewError(orchestrator.KindHandoffExecFailure, fmt.Errorf("change directory to %s: %w", a.Target, err))
		}
		if c.log != nil {
			c.log.Info("changed into initiator directory", "dir", a.Target)
		}
		return nil
	case ModeExec:
		execFunc := c.Exec
		if execFunc == nil {
			execFunc = process.Exec
		}
		if c.log != nil {
			c.log.Info("handing off to initiator", "path", a.Target, "args", a.Argv[1:])
		}
		if err := execFunc(a.Target, a.Argv, a.Env); err != nil {
			return orchestrator.NewError(orchestrator.KindHandoffExecFailure, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown handoff mode %q", a.Mode)
	}
}
