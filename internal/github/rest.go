package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const userAgent = "git-pull-indep"

// NewRESTFactory returns a Factory backed by the go-github REST client. A
// non-empty baseURL targets a GitHub Enterprise server; its upload URL falls
// back to baseURL.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	baseURL   string
	uploadURL string
}

type restClient struct {
	client *github.Client
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, errors.New("github token is required")
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client := github.NewClient(httpClient)
	client.UserAgent = userAgent

	switch {
	case f.baseURL == "" && f.uploadURL != "":
		return nil, errors.New("github upload url requires a base url")
	case f.baseURL == "":
		return &restClient{client: client}, nil
	}

	base, err := enterpriseURL(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("github base url: %w", err)
	}
	upload := base
	if f.uploadURL != "" {
		if upload, err = enterpriseURL(f.uploadURL); err != nil {
			return nil, fmt.Errorf("github upload url: %w", err)
		}
	}

	client, err = client.WithEnterpriseURLs(base, upload)
	if err != nil {
		return nil, fmt.Errorf("construct enterprise github client: %w", err)
	}
	return &restClient{client: client}, nil
}

// enterpriseURL returns raw with a trailing slash and without query or
// fragment.
func enterpriseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	switch {
	case err != nil:
		return "", err
	case u.Scheme == "":
		return "", fmt.Errorf("%q has no scheme", raw)
	case u.Host == "":
		return "", fmt.Errorf("%q has no host", raw)
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// CreateCommitStatus publishes status on owner/repo@status.SHA.
func (c *restClient) CreateCommitStatus(ctx context.Context, owner, repo string, status CommitStatus) error {
	if status.SHA == "" {
		return fmt.Errorf("commit sha is required")
	}

	statusContext := status.Context
	if statusContext == "" {
		statusContext = StatusContext
	}

	input := &github.RepoStatus{
		State:       github.String(string(status.State)),
		Description: github.String(truncateDescription(status.Description)),
		Context:     github.String(statusContext),
	}
	if status.TargetURL != "" {
		input.TargetURL = github.String(status.TargetURL)
	}

	if _, _, err := c.client.Repositories.CreateStatus(ctx, owner, repo, status.SHA, input); err != nil {
		return fmt.Errorf("create commit status: %w", classifyGitHubError(err))
	}
	return nil
}

// truncateDescription keeps descriptions within the 140 characters GitHub accepts.
func truncateDescription(description string) string {
	const limit = 140
	runes := []rune(strings.TrimSpace(description))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-3]) + "..."
}

func classifyGitHubError(err error) error {
	if err == nil || !retryable(err) {
		return err
	}
	return &retryableError{err: err}
}

// retryable reports rate limiting, server side failures and timeouts.
func retryable(err error) bool {
	var (
		rateLimit *github.RateLimitError
		abuse     *github.AbuseRateLimitError
		accepted  *github.AcceptedError
		resp      *github.ErrorResponse
		netErr    net.Error
	)
	switch {
	case errors.As(err, &rateLimit), errors.As(err, &abuse), errors.As(err, &accepted):
		return true
	case errors.As(err, &resp) && resp.Response != nil:
		code := resp.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	case errors.As(err, &netErr):
		return netErr.Timeout()
	}
	return false
}
