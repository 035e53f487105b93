package workspace

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/paulgibert/chaingpt/internal/domain"
)

var repoSegment = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// RepoURL is a validated https://host/owner/repo location.
type RepoURL struct {
	Scheme string
	Host   string
	Owner  string
	Name   string // repository name with any .git suffix stripped
}

// ParseRepoURL validates raw and splits it into its parts.
func ParseRepoURL(raw string) (RepoURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepoURL{}, fmt.Errorf("%w: url is required", domain.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return RepoURL{}, fmt.Errorf("%w: %q", domain.ErrInvalidURL, raw)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return RepoURL{}, fmt.Errorf("%w: scheme must be http or https", domain.ErrInvalidURL)
	}
	if u.Host == "" || u.Hostname() == "" {
		return RepoURL{}, fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}
	if u.User != nil {
		return RepoURL{}, fmt.Errorf("%w: credentials are not allowed in the url", domain.ErrInvalidURL)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.Opaque != "" {
		return RepoURL{}, fmt.Errorf("%w: query and fragment are not allowed", domain.ErrInvalidURL)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) != 2 {
		return RepoURL{}, fmt.Errorf("%w: expected /owner/repo path", domain.ErrInvalidURL)
	}
	owner, name := segments[0], strings.TrimSuffix(segments[1], ".git")
	for _, s := range []string{owner, name} {
		if !repoSegment.MatchString(s) || s == "." || s == ".." {
			return RepoURL{}, fmt.Errorf("%w: bad path segment %q", domain.ErrInvalidURL, s)
		}
	}

	return RepoURL{
		Scheme: u.Scheme,
		Host:   strings.ToLower(u.Host),
		Owner:  owner,
		Name:   name,
	}, nil
}

// CloneURL is the canonical URL handed to git.
func (r RepoURL) CloneURL() string {
	return fmt.Sprintf("%s://%s/%s/%s.git", r.Scheme, r.Host, r.Owner, r.Name)
}

// String returns the URL without the .git suffix.
func (r RepoURL) String() string {
	return fmt.Sprintf("%s://%s/%s/%s", r.Scheme, r.Host, r.Owner, r.Name)
}
