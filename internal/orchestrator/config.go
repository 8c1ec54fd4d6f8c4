package orchestrator

// StashPolicy controls what happens to an automatic stash after a successful pull.
type StashPolicy string

const (
	// StashPolicyKeep leaves the stash entry in place for a human to restore.
	StashPolicyKeep StashPolicy = "keep"
	// StashPolicyRestore applies and drops the stash once the pull succeeded.
	StashPolicyRestore StashPolicy = "restore"
)

const (
	// DefaultRemote is fetched and merged from when Config.Remote is empty.
	DefaultRemote = "origin"
	// StashMessage labels stash entries created by the pipeline so they can be
	// told apart from stashes the user made.
	StashMessage = "git-pull-indep: automatic stash before pull"
)

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	Branch      string
	Remote      string
	StashPolicy StashPolicy
}

func (c Config) remote() string {
	if c.Remote == "" {
		return DefaultRemote
	}
	return c.Remote
}

// Valid reports whether p is a known policy.
func (p StashPolicy) Valid() bool {
	switch p {
	case StashPolicyKeep, StashPolicyRestore:
		return true
	}
	return false
}
