package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const gitlabAPIURL = "https://gitlab.com/api/v4"

// GitLabClient is a GitLab REST API client.
type GitLabClient struct {
	token      string
	httpClient *http.Client
	baseURL    string // For testing - defaults to gitlabAPIURL
}

// NewGitLabClient creates a new GitLab client authenticated with token.
func NewGitLabClient(token string) *GitLabClient {
	return &GitLabClient{
		token:   token,
		baseURL: gitlabAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewGitLabClientWithBaseURL creates a GitLab client with a custom base URL (for testing).
func NewGitLabClientWithBaseURL(token, baseURL string) *GitLabClient {
	c := NewGitLabClient(token)
	c.baseURL = baseURL
	return c
}

// Platform returns PlatformGitLab.
func (c *GitLabClient) Platform() Platform {
	return PlatformGitLab
}

// projectID URL-encodes the project path for use in API paths.
func projectID(repo string) string {
	return url.PathEscape(repo)
}

type gitlabIssue struct {
	IID       int       `json:"iid"`
	Title     string    `json:"title"`
	Body      string    `json:"description"`
	State     string    `json:"state"`
	WebURL    string    `json:"web_url"`
	CreatedAt time.Time `json:"created_at"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

// FetchIssue retrieves an issue via GET /projects/{id}/issues/{iid}.
func (c *GitLabClient) FetchIssue(ctx context.Context, ref IssueRef) (*Issue, error) {
	var gl gitlabIssue
	path := fmt.Sprintf("/projects/%s/issues/%d", projectID(ref.Repo), ref.Number)
	if err := c.do(ctx, http.MethodGet, path, nil, &gl); err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s: %w", ref, err)
	}

	return &Issue{
		Number:    gl.IID,
		Title:     gl.Title,
		Body:      gl.Body,
		State:     gl.State,
		Author:    gl.Author.Username,
		URL:       gl.WebURL,
		CreatedAt: gl.CreatedAt,
	}, nil
}

// PostComment adds a note via POST /projects/{id}/issues/{iid}/notes.
func (c *GitLabClient) PostComment(ctx context.Context, ref IssueRef, body string) error {
	path := fmt.Sprintf("/projects/%s/issues/%d/notes", projectID(ref.Repo), ref.Number)
	payload := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("failed to post note on %s: %w", ref, err)
	}
	return nil
}

type gitlabHook struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	IssuesEvents bool   `json:"issues_events"`
	NoteEvents   bool   `json:"note_events"`
}

func (h gitlabHook) events() []string {
	var events []string
	if h.IssuesEvents {
		events = append(events, "issues")
	}
	if h.NoteEvents {
		events = append(events, "note")
	}
	return events
}

// ListWebhooks returns the project's webhook subscriptions.
func (c *GitLabClient) ListWebhooks(ctx context.Context, repo string) ([]Webhook, error) {
	var hooks []gitlabHook
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%s/hooks", projectID(repo)), nil, &hooks); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	result := make([]Webhook, 0, len(hooks))
	for _, h := range hooks {
		result = append(result, Webhook{
			ID:     h.ID,
			URL:    h.URL,
			Events: h.events(),
			Active: true,
		})
	}
	return result, nil
}

// CreateWebhook creates a webhook subscription. The events list uses the
// platform-agnostic names "issues" and "note".
func (c *GitLabClient) CreateWebhook(ctx context.Context, repo, targetURL string, events []string) (int64, error) {
	if len(events) == 0 {
		events = []string{"issues", "note"}
	}

	payload := map[string]any{
		"url": targetURL,
	}
	for _, e := range events {
		switch e {
		case "issues":
			payload["issues_events"] = true
		case "note", "issue_comment":
			payload["note_events"] = true
		}
	}

	var created gitlabHook
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/hooks", projectID(repo)), payload, &created); err != nil {
		return 0, fmt.Errorf("failed to create webhook: %w", err)
	}
	return created.ID, nil
}

// DeleteWebhook removes a webhook subscription by ID.
func (c *GitLabClient) DeleteWebhook(ctx context.Context, repo string, id int64) error {
	path := fmt.Sprintf("/projects/%s/hooks/%d", projectID(repo), id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete webhook %d: %w", id, err)
	}
	return nil
}

// do executes an API request and decodes the response into out when non-nil.
func (c *GitLabClient) do(ctx context.Context, method, path string, payload, out any) error {
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
	if c.token != "" {
		req.Header.Set("PRIVATE-TOKEN", c.token)
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
		return fmt.Errorf("gitlab API error: %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
