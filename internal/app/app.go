package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rancher/git-pull-indep/internal/git"
	gh "github.com/rancher/git-pull-indep/internal/github"
	"github.com/rancher/git-pull-indep/internal/handoff"
	"github.com/rancher/git-pull-indep/internal/orchestrator"
	"github.com/rancher/git-pull-indep/internal/relocate"
	"github.com/rancher/git-pull-indep/internal/status"
)

// Process exit codes.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitStatusWrite = 3
)

// Runner glues together relocation, the orchestrator, status reporting and
// handoff to execute a single run.
type Runner struct {
	cfg     Config
	log     *slog.Logger
	runID   string
	logFile *os.File
	stderr  io.Writer
	now     func() time.Time

	ghFactory gh.Factory
	gitExec   git.Executor
	relocator *relocate.Controller
	handoff   *handoff.Controller
	reporter  *failureReporter
}

// Deps overrides the collaborators of a Runner. Zero fields get production
// defaults.
type Deps struct {
	GitHubFactory gh.Factory
	Git           git.Executor
	Relocator     *relocate.Controller
	Handoff       *handoff.Controller
	Stderr        io.Writer
	Now           func() time.Time
	RunID         string
}

// NewRunner constructs a Runner with the supplied configuration. The run log
// is opened in the repository root when that directory exists.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	runID := deps.RunID
	if runID == "" {
		runID = strings.TrimSpace(os.Getenv(relocate.EnvRunID))
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	var logFile *os.File
	var logFileErr error
	if isDir(cfg.RepoPath) {
		logFile, logFileErr = OpenLogFile(status.LogPath(cfg.RepoPath))
	}

	var fileWriter io.Writer
	if logFile != nil {
		fileWriter = logFile
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat, stderr, fileWriter, cfg.GitHubToken, cfg.SentryDSN)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger = logger.With("run_id", runID)
	if logFileErr != nil {
		logger.Warn("run log unavailable", "error", logFileErr)
	}

	r := &Runner{
		cfg:       cfg,
		log:       logger,
		runID:     runID,
		logFile:   logFile,
		stderr:    stderr,
		now:       deps.Now,
		ghFactory: deps.GitHubFactory,
		gitExec:   deps.Git,
		relocator: deps.Relocator,
		handoff:   deps.Handoff,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.ghFactory == nil {
		r.ghFactory = gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL)
	}
	if r.gitExec == nil {
		exec := git.NewShellExecutor()
		exec.Git = cfg.GitBinary
		exec.Ignore = status.Artifacts()
		r.gitExec = exec
	}
	if r.relocator == nil {
		r.relocator = relocate.New(cfg.CachePath, logger)
	}
	if r.handoff == nil {
		r.handoff = handoff.NewController(logger)
	}
	r.reporter = newFailureReporter(cfg.SentryDSN, cfg.SentryEnv, runID, logger)

	return r, nil
}

// Close releases the run log.
func (r *Runner) Close() error {
	if r.logFile == nil {
		return nil
	}
	err := r.logFile.Close()
	r.logFile = nil
	return err
}

// Run executes the run and returns the process exit code. On success with an
// executable initiator it does not return.
func (r *Runner) Run(ctx context.Context) int {
	r.log.Info("starting git-pull-indep run", "config", r.cfg)

	if code, done := r.relocate(); done {
		return code
	}

	orch := orchestrator.New(orchestrator.Config{
		Branch:      r.cfg.Checkout,
		Remote:      r.cfg.Remote,
		StashPolicy: r.cfg.StashPolicy,
	}, r.gitExec, r.log)

	result, runErr := orch.Run(ctx, r.cfg.RepoPath)

	// An unusable initiator fails the run before the record is written.
	var action handoff.Action
	if runErr == nil {
		action, runErr = r.planHandoff()
	}
	rec := buildRecord(result, runErr, r.runID, r.now())

	if runErr != nil {
		r.log.Error("run failed", "error", runErr)
		r.reporter.Capture(runErr)
	} else {
		r.log.Info("run completed",
			"repository_changed", rec.RepositoryChanged,
			"submodules", rec.SubmoduleUpdates,
			"stash", rec.Stash,
			"commit", rec.Commit.Hash)
	}

	if err := r.publish(ctx, result, rec); err != nil {
		if errors.Is(err, gh.ErrNotGitHubRemote) {
			r.log.Debug("skipping commit status", "reason", err)
		} else {
			r.log.Warn("failed to publish commit status", "error", err, "transient", gh.IsRetryable(err))
		}
	}

	if code, ok := r.writeStatus(rec); !ok {
		return code
	}

	if runErr != nil {
		return ExitFailure
	}
	return r.handOff(action)
}

// relocate copies the executable to the cache and replaces the process with
// the copy. done is true when the run must end with code.
func (r *Runner) relocate() (code int, done bool) {
	needed, err := r.relocator.Needed()
	if err == nil && !needed {
		return 0, false
	}

	if err == nil {
		var path string
		path, err = r.relocator.Copy()
		if err == nil {
			r.reporter.Flush()
			r.syncLog()
			err = r.relocator.Exec(path, r.runID)
			if err == nil {
				// The copy now owns the run.
				return ExitSuccess, true
			}
		}
	}

	r.log.Error("relocation failed", "error", err)
	r.reporter.Capture(err)
	rec := buildRecord(orchestrator.Result{Stash: orchestrator.StashNone}, err, r.runID, r.now())
	if code, ok := r.writeStatus(rec); !ok {
		return code, true
	}
	return ExitFailure, true
}

func (r *Runner) publish(ctx context.Context, result orchestrator.Result, rec status.Record) error {
	if r.cfg.GitHubToken == "" || result.RemoteURL == "" || !result.HeadKnown {
		return nil
	}

	host, err := gh.HostForBaseURL(r.cfg.GitHubBaseURL)
	if err != nil {
		return err
	}
	client, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("initialize github client: %w", err)
	}
	return gh.NewPublisher(client, host, r.log).Publish(ctx, result.RemoteURL, commitStatus(rec))
}

// writeStatus persists rec. ok is false when the run must end with code.
func (r *Runner) writeStatus(rec status.Record) (code int, ok bool) {
	defer r.reporter.Flush()

	if !isDir(r.cfg.RepoPath) {
		fmt.Fprintf(r.stderr, "git-pull-indep: %s: %s\n", rec.Status, strings.ReplaceAll(rec.Message, "\n", " | "))
		return ExitFailure, false
	}

	path := status.Path(r.cfg.RepoPath)
	if err := status.Write(path, rec); err != nil {
		writeErr := orchestrator.NewError(orchestrator.KindStatusWriteFailure, err)
		r.log.Error("failed to write status file", "path", path, "error", writeErr)
		r.reporter.Capture(writeErr)
		fmt.Fprintf(r.stderr, "git-pull-indep: %v\n", writeErr)
		return ExitStatusWrite, false
	}

	r.log.Info("wrote status file", "path", path, "status", string(rec.Status))
	return ExitSuccess, true
}

func (r *Runner) planHandoff() (handoff.Action, error) {
	return handoff.Plan(handoff.Request{
		Initiator:  r.cfg.Initiator,
		Args:       r.cfg.InitiatorArgs,
		Succeeded:  true,
		StatusPath: status.Path(r.cfg.RepoPath),
	})
}

// handOff performs the planned action once the status file is durable.
func (r *Runner) handOff(action handoff.Action) int {
	if action.Mode == handoff.ModeExec {
		r.syncLog()
	}
	if err := r.handoff.Perform(action); err != nil {
		r.log.Error("handoff failed", "error", err)
		r.reporter.Capture(err)
		r.reporter.Flush()
		fmt.Fprintf(r.stderr, "git-pull-indep: %v\n", err)
		return ExitFailure
	}
	return ExitSuccess
}

// syncLog flushes the run log before the process image is replaced.
func (r *Runner) syncLog() {
	if r.logFile != nil {
		_ = r.logFile.Sync()
	}
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
