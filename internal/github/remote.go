package gh

import (
	"fmt"
	"net/url"
	"strings"
)

const publicHost = "github.com"

// Remote identifies a repository hosted on a GitHub instance.
type Remote struct {
	Host  string
	Owner string
	Repo  string
}

// ParseRemoteURL extracts host, owner and repository from a git remote URL.
// It accepts https://host/owner/repo(.git), ssh://user@host[:port]/owner/repo(.git)
// and the scp-like user@host:owner/repo(.git) form.
func ParseRemoteURL(raw string) (Remote, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Remote{}, fmt.Errorf("remote url cannot be empty")
	}

	var host, path string
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Remote{}, fmt.Errorf("parse remote url: %w", err)
		}
		switch parsed.Scheme {
		case "https", "http", "ssh", "git":
		default:
			return Remote{}, fmt.Errorf("unsupported remote scheme %q", parsed.Scheme)
		}
		host = parsed.Hostname()
		path = parsed.Path
	} else {
		at := strings.LastIndex(raw, "@")
		colon := strings.Index(raw, ":")
		if colon < 0 || colon < at {
			return Remote{}, fmt.Errorf("unsupported remote url %q", raw)
		}
		host = raw[at+1 : colon]
		path = raw[colon+1:]
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if host == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Remote{}, fmt.Errorf("remote url %q does not name owner/repo", raw)
	}

	return Remote{Host: strings.ToLower(host), Owner: parts[0], Repo: parts[1]}, nil
}

// HostForBaseURL returns the git host served by the API at baseURL. An empty
// baseURL means github.com.
func HostForBaseURL(baseURL string) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return publicHost, nil
	}
	normalized, err := enterpriseURL(baseURL)
	if err != nil {
		return "", err
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Hostname()), nil
}

// String renders owner/repo.
func (r Remote) String() string {
	return r.Owner + "/" + r.Repo
}
