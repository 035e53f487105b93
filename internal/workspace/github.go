package workspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v72/github"
	"github.com/sirupsen/logrus"

	"github.com/paulgibert/chaingpt/internal/domain"
)

// GitHubInspector checks that a repository exists and is readable before it
// is cloned. Repositories on other hosts are passed through.
type GitHubInspector struct {
	client *github.Client
	host   string
	logger logrus.FieldLogger
}

// NewGitHubInspector creates an inspector for github.com. An empty token
// makes anonymous requests.
func NewGitHubInspector(token string, httpClient *http.Client) *GitHubInspector {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubInspector{
		client: client,
		host:   "github.com",
		logger: logrus.StandardLogger(),
	}
}

// SetBaseURL points the API client at a different endpoint.
func (g *GitHubInspector) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse github base url: %w", err)
	}
	g.client.BaseURL = u
	return nil
}

// Inspect implements Inspector. Failures that say nothing about the
// repository itself, such as rate limiting, are logged and ignored so the
// clone can decide.
func (g *GitHubInspector) Inspect(ctx context.Context, repo RepoURL) (*RepoInfo, error) {
	if repo.Host != g.host {
		return nil, nil
	}

	r, _, err := g.client.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err == nil {
		return &RepoInfo{
			DefaultBranch: r.GetDefaultBranch(),
			Private:       r.GetPrivate(),
		}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &domain.CloneError{Reason: domain.CloneReasonNetwork, Err: ctxErr}
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		g.logger.WithField("repo", repo.String()).Warn("github rate limit hit, skipping preflight")
		return nil, nil
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return nil, &domain.CloneError{Reason: domain.CloneReasonNotFound, Err: errors.New("repository not found")}
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, &domain.CloneError{Reason: domain.CloneReasonAuth, Err: errors.New("repository access denied")}
		}
	}

	g.logger.WithError(err).WithField("repo", repo.String()).Warn("github preflight failed, continuing with clone")
	return nil, nil
}
