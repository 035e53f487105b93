package domain

import "time"

// Session is one caller's exploration of a single cloned repository.
type Session struct {
	SessionID     string     `json:"session_id"`
	RepoURL       string     `json:"repo_url"`
	RepoName      string     `json:"repo_name"`
	DefaultBranch string     `json:"default_branch,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    time.Time  `json:"last_used_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}
