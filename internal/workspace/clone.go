package workspace

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/paulgibert/chaingpt/internal/domain"
)

const maxStderrInError = 512

// GitCloner clones repositories with the git binary.
type GitCloner struct {
	// GitBin defaults to "git".
	GitBin string
	// Token, when set, is sent as an HTTP basic credential to https URLs on
	// TokenHost only. It is passed to git through the environment and never
	// written to disk.
	Token string
	// TokenHost defaults to "github.com".
	TokenHost string
	// Depth limits history; 0 clones everything.
	Depth int
}

// Clone runs git clone into dest and classifies any failure.
func (g *GitCloner) Clone(ctx context.Context, repo RepoURL, dest string) error {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}

	args := []string{"clone", "--quiet"}
	if g.Depth > 0 {
		args = append(args, "--depth", fmt.Sprint(g.Depth))
	}
	args = append(args, "--", repo.CloneURL(), dest)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = g.env(repo)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	msg := g.scrub(strings.TrimSpace(stderr.String()))
	if len(msg) > maxStderrInError {
		msg = msg[:maxStderrInError]
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domain.CloneError{Reason: domain.CloneReasonNetwork, Err: ctxErr}
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return &domain.CloneError{Reason: domain.CloneReasonUnknown, Err: fmt.Errorf("git not available: %w", execErr.Err)}
	}
	return &domain.CloneError{Reason: classifyCloneFailure(msg), Err: errors.New(msg)}
}

func (g *GitCloner) tokenHost() string {
	if g.TokenHost == "" {
		return "github.com"
	}
	return strings.ToLower(g.TokenHost)
}

// sendsToken reports whether cloning repo may carry the token.
func (g *GitCloner) sendsToken(repo RepoURL) bool {
	return g.Token != "" && repo.Scheme == "https" && repo.Host == g.tokenHost()
}

func (g *GitCloner) env(repo RepoURL) []string {
	env := append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=never",
		"GIT_ASKPASS=",
		"SSH_ASKPASS=",
	)
	if g.sendsToken(repo) {
		cred := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + g.Token))
		// Scoped by URL so redirects to other hosts do not carry it either.
		env = append(env,
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.https://"+g.tokenHost()+"/.extraHeader",
			"GIT_CONFIG_VALUE_0=Authorization: Basic "+cred,
		)
	}
	return env
}

func (g *GitCloner) scrub(s string) string {
	if g.Token == "" {
		return s
	}
	s = strings.ReplaceAll(s, g.Token, "***")
	cred := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + g.Token))
	return strings.ReplaceAll(s, cred, "***")
}

var (
	notFoundMarkers = []string{
		"repository not found",
		"not found",
		"does not exist",
		"error: 404",
	}
	authMarkers = []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"terminal prompts disabled",
		"permission denied",
		"error: 401",
		"error: 403",
		"returned error: 403",
	}
	networkMarkers = []string{
		"could not resolve host",
		"connection refused",
		"connection timed out",
		"operation timed out",
		"connection reset",
		"failed to connect",
		"network is unreachable",
		"unable to access",
		"ssl",
		"tls",
		"early eof",
	}
)

// classifyCloneFailure maps git's stderr to a CloneError reason.
func classifyCloneFailure(stderr string) string {
	lower := strings.ToLower(stderr)
	for _, group := range []struct {
		reason  string
		markers []string
	}{
		{domain.CloneReasonNotFound, notFoundMarkers},
		{domain.CloneReasonAuth, authMarkers},
		{domain.CloneReasonNetwork, networkMarkers},
	} {
		for _, m := range group.markers {
			if strings.Contains(lower, m) {
				return group.reason
			}
		}
	}
	return domain.CloneReasonUnknown
}
