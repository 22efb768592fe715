// Package vcs provides the version-control host operations the watcher
// depends on: fetching issues, posting comments, and managing webhook
// subscriptions on GitHub and GitLab, plus local git helpers.
package vcs

import (
	"context"
	"fmt"
	"time"
)

// Platform identifies the hosting platform an event or client belongs to.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

// IssueRef identifies an issue on a specific repository.
type IssueRef struct {
	Repo   string // owner/repo (GitHub) or full project path (GitLab)
	Number int
}

// Key returns a stable map key for the reference.
func (r IssueRef) Key() string {
	return fmt.Sprintf("%s#%d", r.Repo, r.Number)
}

func (r IssueRef) String() string {
	return r.Key()
}

// Issue is the platform-agnostic issue shape the orchestrator works with.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Webhook is a webhook subscription on the hosting platform.
type Webhook struct {
	ID     int64
	URL    string
	Events []string
	Active bool
}

// Client is the host-side capability consumed by the watcher. Both platform
// implementations are REST clients; tests substitute fakes.
type Client interface {
	// Platform returns which host this client talks to.
	Platform() Platform

	// FetchIssue retrieves a single issue.
	FetchIssue(ctx context.Context, ref IssueRef) (*Issue, error)

	// PostComment adds a comment to an issue.
	PostComment(ctx context.Context, ref IssueRef, body string) error

	// ListWebhooks returns all webhook subscriptions on a repository.
	ListWebhooks(ctx context.Context, repo string) ([]Webhook, error)

	// CreateWebhook subscribes targetURL to the given events and returns the
	// new subscription ID.
	CreateWebhook(ctx context.Context, repo, targetURL string, events []string) (int64, error)

	// DeleteWebhook removes a webhook subscription.
	DeleteWebhook(ctx context.Context, repo string, id int64) error
}
