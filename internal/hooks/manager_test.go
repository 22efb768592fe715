package hooks

import (
	"context"
	"testing"

	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// fakeClient is an in-memory webhook host.
type fakeClient struct {
	webhooks []vcs.Webhook
	nextID   int64
	creates  int
	deletes  int
}

func (f *fakeClient) Platform() vcs.Platform { return vcs.PlatformGitHub }

func (f *fakeClient) FetchIssue(ctx context.Context, ref vcs.IssueRef) (*vcs.Issue, error) {
	return nil, nil
}

func (f *fakeClient) PostComment(ctx context.Context, ref vcs.IssueRef, body string) error {
	return nil
}

func (f *fakeClient) ListWebhooks(ctx context.Context, repo string) ([]vcs.Webhook, error) {
	out := make([]vcs.Webhook, len(f.webhooks))
	copy(out, f.webhooks)
	return out, nil
}

func (f *fakeClient) CreateWebhook(ctx context.Context, repo, targetURL string, events []string) (int64, error) {
	f.creates++
	f.nextID++
	f.webhooks = append(f.webhooks, vcs.Webhook{ID: f.nextID, URL: targetURL, Events: events, Active: true})
	return f.nextID, nil
}

func (f *fakeClient) DeleteWebhook(ctx context.Context, repo string, id int64) error {
	f.deletes++
	for i, hook := range f.webhooks {
		if hook.ID == id {
			f.webhooks = append(f.webhooks[:i], f.webhooks[i+1:]...)
			return nil
		}
	}
	return nil
}

const targetURL = "https://my-tunnel-8001.euw.devtunnels.ms/gh-webhook"

func TestEnsureWebhookCreatesOnce(t *testing.T) {
	client := &fakeClient{}
	m := NewManager(client)
	ctx := context.Background()

	if err := m.EnsureWebhook(ctx, "owner/repo", targetURL, nil); err != nil {
		t.Fatalf("first EnsureWebhook failed: %v", err)
	}
	if err := m.EnsureWebhook(ctx, "owner/repo", targetURL, nil); err != nil {
		t.Fatalf("second EnsureWebhook failed: %v", err)
	}

	if client.creates != 1 {
		t.Errorf("CreateWebhook called %d times, want 1", client.creates)
	}
	if len(client.webhooks) != 1 {
		t.Errorf("%d subscriptions exist, want 1", len(client.webhooks))
	}

	status := m.Status()
	if !status.Configured || status.URL != targetURL {
		t.Errorf("Status = %+v, want configured at %q", status, targetURL)
	}
}

func TestEnsureWebhookReplacesStaleTunnelHooks(t *testing.T) {
	client := &fakeClient{
		webhooks: []vcs.Webhook{
			{ID: 1, URL: "https://old-tunnel-8001.euw.devtunnels.ms/gh-webhook"},
			{ID: 2, URL: "https://ci.example.com/hook"},
		},
		nextID: 2,
	}
	m := NewManager(client)

	if err := m.EnsureWebhook(context.Background(), "owner/repo", targetURL, nil); err != nil {
		t.Fatalf("EnsureWebhook failed: %v", err)
	}

	if client.deletes != 1 {
		t.Errorf("deleted %d hooks, want 1 (only the stale tunnel hook)", client.deletes)
	}

	var urls []string
	for _, hook := range client.webhooks {
		urls = append(urls, hook.URL)
	}
	if len(client.webhooks) != 2 {
		t.Fatalf("subscriptions = %v, want unrelated hook plus fresh tunnel hook", urls)
	}
	for _, hook := range client.webhooks {
		if hook.URL != targetURL && hook.URL != "https://ci.example.com/hook" {
			t.Errorf("unexpected subscription %q", hook.URL)
		}
	}
}

func TestRemoveTunnelWebhooks(t *testing.T) {
	client := &fakeClient{
		webhooks: []vcs.Webhook{
			{ID: 1, URL: targetURL},
			{ID: 2, URL: "https://other-x.use2.devtunnels.ms/gh-webhook"},
			{ID: 3, URL: "https://ci.example.com/hook"},
		},
		nextID: 3,
	}
	m := NewManager(client)
	ctx := context.Background()

	removed, err := m.RemoveTunnelWebhooks(ctx, "owner/repo")
	if err != nil {
		t.Fatalf("RemoveTunnelWebhooks failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if len(client.webhooks) != 1 || client.webhooks[0].ID != 3 {
		t.Errorf("unrelated webhook must survive, have %+v", client.webhooks)
	}

	// Removing again is a no-op.
	removed, err = m.RemoveTunnelWebhooks(ctx, "owner/repo")
	if err != nil {
		t.Fatalf("second RemoveTunnelWebhooks failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("second removal removed %d, want 0", removed)
	}
}
