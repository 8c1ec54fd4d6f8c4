package app

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	gh "github.com/rancher/git-pull-indep/internal/github"
	"github.com/rancher/git-pull-indep/internal/orchestrator"
	"github.com/rancher/git-pull-indep/internal/refname"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	defaultGitBinary = "git"

	envPrefix = "GIT_PULL_INDEP_"
)

// ErrUsage marks configuration problems reported before any repository is
// touched. They exit with code 2 and never produce a status record.
var ErrUsage = errors.New("usage error")

// Config is the resolved execution context of a single run.
type Config struct {
	RepoPath      string
	Checkout      string
	CachePath     string
	Initiator     string
	InitiatorArgs []string

	LogLevel  string
	LogFormat string

	Remote      string
	StashPolicy orchestrator.StashPolicy
	GitBinary   string

	GitHubToken     string
	GitHubBaseURL   string
	GitHubUploadURL string

	SentryDSN string
	SentryEnv string
}

// fileConfig is the YAML form of Config read from --config.
type fileConfig struct {
	RepoPath        string   `yaml:"repo_path"`
	Checkout        string   `yaml:"checkout"`
	CachePath       string   `yaml:"cache_path"`
	Initiator       string   `yaml:"initiator"`
	InitiatorArgs   []string `yaml:"initiator_args"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	Remote          string   `yaml:"remote"`
	StashPolicy     string   `yaml:"stash_policy"`
	Git             string   `yaml:"git"`
	GitHubToken     string   `yaml:"github_token"`
	GitHubBaseURL   string   `yaml:"github_base_url"`
	GitHubUploadURL string   `yaml:"github_upload_url"`
	SentryDSN       string   `yaml:"sentry_dsn"`
	SentryEnv       string   `yaml:"sentry_env"`
}

// setting binds one Config field to its flag, environment variable and
// config file key.
type setting struct {
	flag string
	env  string
	file func(*fileConfig) string
	dst  func(*Config) *string
	def  string
}

var settings = []setting{
	{flag: "checkout", env: envPrefix + "CHECKOUT", file: func(f *fileConfig) string { return f.Checkout }, dst: func(c *Config) *string { return &c.Checkout }},
	{flag: "cache-path", env: envPrefix + "CACHE_PATH", file: func(f *fileConfig) string { return f.CachePath }, dst: func(c *Config) *string { return &c.CachePath }},
	{flag: "initiator", env: envPrefix + "INITIATOR", file: func(f *fileConfig) string { return f.Initiator }, dst: func(c *Config) *string { return &c.Initiator }},
	{flag: "log-level", env: envPrefix + "LOG_LEVEL", file: func(f *fileConfig) string { return f.LogLevel }, dst: func(c *Config) *string { return &c.LogLevel }, def: defaultLogLevel},
	{flag: "log-format", env: envPrefix + "LOG_FORMAT", file: func(f *fileConfig) string { return f.LogFormat }, dst: func(c *Config) *string { return &c.LogFormat }, def: defaultLogFormat},
	{flag: "remote", env: envPrefix + "REMOTE", file: func(f *fileConfig) string { return f.Remote }, dst: func(c *Config) *string { return &c.Remote }, def: orchestrator.DefaultRemote},
	{flag: "git", env: envPrefix + "GIT", file: func(f *fileConfig) string { return f.Git }, dst: func(c *Config) *string { return &c.GitBinary }, def: defaultGitBinary},
	{flag: "github-token", env: "GITHUB_TOKEN", file: func(f *fileConfig) string { return f.GitHubToken }, dst: func(c *Config) *string { return &c.GitHubToken }},
	{flag: "github-base-url", env: "GITHUB_BASE_URL", file: func(f *fileConfig) string { return f.GitHubBaseURL }, dst: func(c *Config) *string { return &c.GitHubBaseURL }},
	{flag: "github-upload-url", env: "GITHUB_UPLOAD_URL", file: func(f *fileConfig) string { return f.GitHubUploadURL }, dst: func(c *Config) *string { return &c.GitHubUploadURL }},
	{flag: "sentry-dsn", env: "SENTRY_DSN", file: func(f *fileConfig) string { return f.SentryDSN }, dst: func(c *Config) *string { return &c.SentryDSN }},
	{flag: "sentry-env", env: "SENTRY_ENVIRONMENT", file: func(f *fileConfig) string { return f.SentryEnv }, dst: func(c *Config) *string { return &c.SentryEnv }},
}

// LoadConfig resolves the execution context. Each value comes from the first
// source that sets it: command-line flag, environment variable, config file,
// then the default.
func LoadConfig(flags *pflag.FlagSet, args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if len(args) > 1 {
		return Config{}, goerr.Wrap(ErrUsage, "expected a single repository path", goerr.V("args", args))
	}

	var file fileConfig
	if path := lookup(flags, "config", getenv(envPrefix+"CONFIG"), "", ""); path != "" {
		loaded, err := loadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		file = loaded
	}

	var cfg Config
	for _, s := range settings {
		*s.dst(&cfg) = lookup(flags, s.flag, getenv(s.env), s.file(&file), s.def)
	}
	cfg.StashPolicy = orchestrator.StashPolicy(strings.ToLower(
		lookup(flags, "stash-policy", getenv(envPrefix+"STASH_POLICY"), file.StashPolicy, string(orchestrator.StashPolicyKeep))))

	if len(args) == 1 {
		cfg.RepoPath = strings.TrimSpace(args[0])
	}
	if cfg.RepoPath == "" {
		cfg.RepoPath = strings.TrimSpace(getenv(envPrefix + "REPO_PATH"))
	}
	if cfg.RepoPath == "" {
		cfg.RepoPath = strings.TrimSpace(file.RepoPath)
	}

	if flags != nil && flags.Changed("initiator-arg") {
		values, err := flags.GetStringArray("initiator-arg")
		if err != nil {
			return Config{}, goerr.Wrap(ErrUsage, err.Error())
		}
		cfg.InitiatorArgs = values
	} else {
		cfg.InitiatorArgs = file.InitiatorArgs
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, goerr.Wrap(ErrUsage, "failed to read config file", goerr.V("path", path), goerr.V("error", err.Error()))
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fileConfig{}, goerr.Wrap(ErrUsage, "failed to parse config file", goerr.V("path", path), goerr.V("error", err.Error()))
	}
	return file, nil
}

// lookup returns the first non-empty value in precedence order. A flag only
// counts when it was given explicitly.
func lookup(flags *pflag.FlagSet, name, env, file, def string) string {
	if flags != nil && flags.Changed(name) {
		if value, err := flags.GetString(name); err == nil {
			return strings.TrimSpace(value)
		}
	}
	if v := strings.TrimSpace(env); v != "" {
		return v
	}
	if v := strings.TrimSpace(file); v != "" {
		return v
	}
	return def
}

func (c *Config) normalize() error {
	if c.RepoPath == "" {
		return goerr.Wrap(ErrUsage, "repository path is required")
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return goerr.Wrap(ErrUsage, "unsupported log level", goerr.V("value", c.LogLevel))
	}

	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return goerr.Wrap(ErrUsage, "unsupported log format, should be 'json' or 'text'", goerr.V("value", c.LogFormat))
	}

	if !c.StashPolicy.Valid() {
		return goerr.Wrap(ErrUsage, "unsupported stash policy", goerr.V("value", string(c.StashPolicy)))
	}

	if err := refname.ValidateRemote(c.Remote); err != nil {
		return goerr.Wrap(ErrUsage, "invalid remote", goerr.V("value", c.Remote), goerr.V("error", err.Error()))
	}

	if c.GitHubUploadURL != "" && c.GitHubBaseURL == "" {
		return goerr.Wrap(ErrUsage, "github upload url requires a base url")
	}
	if c.GitHubBaseURL != "" {
		if _, err := gh.HostForBaseURL(c.GitHubBaseURL); err != nil {
			return goerr.Wrap(ErrUsage, "invalid github base url", goerr.V("value", c.GitHubBaseURL), goerr.V("error", err.Error()))
		}
	}

	return nil
}

// LogValue keeps secrets out of structured logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("repo_path", c.RepoPath),
		slog.String("checkout", c.Checkout),
		slog.String("cache_path", c.CachePath),
		slog.String("initiator", c.Initiator),
		slog.String("remote", c.Remote),
		slog.String("stash_policy", string(c.StashPolicy)),
		slog.Bool("github_token_set", c.GitHubToken != ""),
		slog.Bool("sentry_enabled", c.SentryDSN != ""),
	)
}
