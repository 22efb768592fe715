package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const githubAPIURL = "https://api.github.com"

// GitHubClient is a GitHub REST API client.
type GitHubClient struct {
	token      string
	httpClient *http.Client
	baseURL    string // For testing - defaults to githubAPIURL
}

// NewGitHubClient creates a new GitHub client authenticated with token.
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		token:   token,
		baseURL: githubAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewGitHubClientWithBaseURL creates a GitHub client with a custom base URL (for testing).
func NewGitHubClientWithBaseURL(token, baseURL string) *GitHubClient {
	c := NewGitHubClient(token)
	c.baseURL = baseURL
	return c
}

// Platform returns PlatformGitHub.
func (c *GitHubClient) Platform() Platform {
	return PlatformGitHub
}

type githubIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// FetchIssue retrieves an issue via GET /repos/{repo}/issues/{number}.
func (c *GitHubClient) FetchIssue(ctx context.Context, ref IssueRef) (*Issue, error) {
	var gh githubIssue
	path := fmt.Sprintf("/repos/%s/issues/%d", ref.Repo, ref.Number)
	if err := c.do(ctx, http.MethodGet, path, nil, &gh); err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", ref, err)
	}

	return &Issue{
		Number:    gh.Number,
		Title:     gh.Title,
		Body:      gh.Body,
		State:     gh.State,
		Author:    gh.User.Login,
		URL:       gh.HTMLURL,
		CreatedAt: gh.CreatedAt,
	}, nil
}

// PostComment adds a comment via POST /repos/{repo}/issues/{number}/comments.
func (c *GitHubClient) PostComment(ctx context.Context, ref IssueRef, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", ref.Repo, ref.Number)
	payload := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("failed to post comment on %s: %w", ref, err)
	}
	return nil
}

type githubHook struct {
	ID     int64    `json:"id"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
	Config struct {
		URL string `json:"url"`
	} `json:"config"`
}

// ListWebhooks returns the repository's webhook subscriptions.
func (c *GitHubClient) ListWebhooks(ctx context.Context, repo string) ([]Webhook, error) {
	var hooks []githubHook
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/hooks", repo), nil, &hooks); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	result := make([]Webhook, 0, len(hooks))
	for _, h := range hooks {
		result = append(result, Webhook{
			ID:     h.ID,
			URL:    h.Config.URL,
			Events: h.Events,
			Active: h.Active,
		})
	}
	return result, nil
}

// CreateWebhook creates a JSON webhook subscription for the given events.
func (c *GitHubClient) CreateWebhook(ctx context.Context, repo, targetURL string, events []string) (int64, error) {
	if len(events) == 0 {
		events = []string{"issues", "issue_comment"}
	}

	payload := map[string]any{
		"name":   "web",
		"active": true,
		"events": events,
		"config": map[string]string{
			"url":          targetURL,
			"content_type": "json",
		},
	}

	var created githubHook
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/hooks", repo), payload, &created); err != nil {
		return 0, fmt.Errorf("failed to create webhook: %w", err)
	}
	return created.ID, nil
}

// DeleteWebhook removes a webhook subscription by ID.
func (c *GitHubClient) DeleteWebhook(ctx context.Context, repo string, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/hooks/%d", repo, id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete webhook %d: %w", id, err)
	}
	return nil
}

// do executes an API request and decodes the response into out when non-nil.
func (c *GitHubClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github API error: %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
