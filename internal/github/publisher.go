package gh

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher reports run results as commit statuses on the repository the
// working tree was pulled from.
type Publisher struct {
	client Client
	host   string
	log    *slog.Logger
}

// NewPublisher returns a Publisher that only reports for remotes on host.
// client must not be nil.
func NewPublisher(client Client, host string, logger *slog.Logger) *Publisher {
	if host == "" {
		host = publicHost
	}
	return &Publisher{client: client, host: host, log: logger}
}

// Publish attaches status to the commit on the repository behind remoteURL.
// Remotes not hosted on the publisher's host yield ErrNotGitHubRemote.
func (p *Publisher) Publish(ctx context.Context, remoteURL string, status CommitStatus) error {
	remote, err := ParseRemoteURL(remoteURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotGitHubRemote, err)
	}
	if remote.Host != p.host {
		return fmt.Errorf("%w: %s is not %s", ErrNotGitHubRemote, remote.Host, p.host)
	}
	if status.Context == "" {
		status.Context = StatusContext
	}

	if err := p.client.CreateCommitStatus(ctx, remote.Owner, remote.Repo, status); err != nil {
		return err
	}
	if p.log != nil {
		p.log.Info("published commit status", "repo", remote.String(), "sha", status.SHA, "state", string(status.State))
	}
	return nil
}
