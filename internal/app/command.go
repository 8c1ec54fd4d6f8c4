package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rancher/git-pull-indep/internal/orchestrator"
)

// Main runs the command line and returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := ExitSuccess
	cmd := NewCommand(stderr, func(c int) { code = c })
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "git-pull-indep: %v\n", err)
		return ExitUsage
	}
	return code
}

// NewCommand returns the root command. exit receives the run's exit code;
// errors returned by Execute are usage errors.
func NewCommand(stderr io.Writer, exit func(code int)) *cobra.Command {
	c := &cobra.Command{
		Use:   "git-pull-indep <repo_path>",
		Short: "Pull a git working tree, stashing local changes and updating submodules",
		Long: `Bring a git working tree in sync with its remote.

Uncommitted changes are stashed before the pull, the requested branch is
checked out, the current branch is fetched and merged, and submodules are
updated recursively. The outcome is written to .git_pull_indep_status in the
repository root and every run is appended to .git_pull_indep.log.

With --cache_path the executable first copies itself into the cache and
re-executes from there, so it can update the repository it was started from.
With --initiator a successful run hands control to the given executable, or
changes into the given directory before exiting.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cmd.Flags(), args, nil)
			if err != nil {
				return err
			}

			runner, err := NewRunner(cfg, Deps{Stderr: stderr})
			if err != nil {
				return goerr.Wrap(ErrUsage, err.Error())
			}
			defer runner.Close()

			exit(runner.Run(cmd.Context()))
			return nil
		},
	}

	flags := c.Flags()
	flags.String("checkout", "", "branch to check out before pulling")
	flags.String("cache-path", "", "cache root the executable relocates into before touching the repository")
	flags.String("initiator", "", "executable to hand off to, or directory to change into, after a successful run")
	flags.StringArray("initiator-arg", nil, "argument passed to the initiator executable (repeatable)")
	flags.String("log-level", defaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", defaultLogFormat, "log format: text, json")
	flags.String("remote", orchestrator.DefaultRemote, "remote to fetch from")
	flags.String("stash-policy", string(orchestrator.StashPolicyKeep), "what to do with stashed changes after the pull: keep, restore")
	flags.String("git", defaultGitBinary, "git binary")
	flags.String("config", "", "YAML config file")
	flags.String("github-token", "", "GitHub token used to publish commit statuses")
	flags.String("github-base-url", "", "GitHub Enterprise API base URL")
	flags.String("github-upload-url", "", "GitHub Enterprise upload URL")
	flags.String("sentry-dsn", "", "Sentry DSN for failure reporting")
	flags.String("sentry-env", "", "Sentry environment")
	flags.SetNormalizeFunc(underscoreToDash)

	c.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return goerr.Wrap(ErrUsage, err.Error())
	})

	return c
}

// underscoreToDash accepts --cache_path and friends as spellings of the
// dashed flag names.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}
