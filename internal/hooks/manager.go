// Package hooks keeps exactly one webhook subscription on the hosting
// platform pointing at the tunnel URL. The tunnel endpoint and the webhook
// target drift independently (a recreated tunnel keeps its ID but gets a new
// underlying endpoint), so the subscription is verified on every startup and
// periodically while hosting.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/logging"
	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// TunnelDomain identifies subscriptions managed by this tool.
const TunnelDomain = "devtunnels.ms"

// Status reports subscription state for the health endpoint.
type Status struct {
	Configured bool      `json:"configured"`
	URL        string    `json:"url,omitempty"`
	CheckedAt  time.Time `json:"checked_at,omitempty"`
}

// Manager ensures webhook subscriptions on the VCS host. Safe for concurrent
// use; ensure/remove operations run under a single mutex.
type Manager struct {
	client vcs.Client
	log    *slog.Logger

	mu        sync.Mutex
	lastState Status
}

// NewManager creates a subscription manager over the given platform client.
func NewManager(client vcs.Client) *Manager {
	return &Manager{
		client: client,
		log:    logging.WithComponent("hooks"),
	}
}

// EnsureWebhook makes exactly one subscription exist for targetURL. An
// existing subscription with the same URL is kept; stale subscriptions on the
// tunnel domain are removed first so duplicates never accumulate.
func (m *Manager) EnsureWebhook(ctx context.Context, repo, targetURL string, events []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhooks, err := m.client.ListWebhooks(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}

	for _, hook := range webhooks {
		if hook.URL == targetURL {
			m.log.Debug("Webhook already configured", slog.String("url", targetURL))
			m.lastState = Status{Configured: true, URL: targetURL, CheckedAt: time.Now()}
			return nil
		}
	}

	// Remove stale tunnel subscriptions before creating the fresh one.
	if _, err := m.removeMatching(ctx, repo, webhooks); err != nil {
		return err
	}

	id, err := m.client.CreateWebhook(ctx, repo, targetURL, events)
	if err != nil {
		m.lastState = Status{Configured: false, CheckedAt: time.Now()}
		return fmt.Errorf("failed to create webhook: %w", err)
	}

	m.log.Info("Webhook created",
		slog.Int64("id", id),
		slog.String("url", targetURL),
		slog.String("repo", repo),
	)
	m.lastState = Status{Configured: true, URL: targetURL, CheckedAt: time.Now()}
	return nil
}

// RemoveTunnelWebhooks deletes every subscription on the tunnel domain.
// Idempotent: removing when none exist is a no-op.
func (m *Manager) RemoveTunnelWebhooks(ctx context.Context, repo string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhooks, err := m.client.ListWebhooks(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("failed to list webhooks: %w", err)
	}

	removed, err := m.removeMatching(ctx, repo, webhooks)
	if err != nil {
		return removed, err
	}

	m.lastState = Status{Configured: false, CheckedAt: time.Now()}
	return removed, nil
}

// removeMatching deletes tunnel-domain subscriptions from the given list.
// Caller holds the mutex.
func (m *Manager) removeMatching(ctx context.Context, repo string, webhooks []vcs.Webhook) (int, error) {
	removed := 0
	for _, hook := range webhooks {
		if !strings.Contains(hook.URL, TunnelDomain) {
			continue
		}
		if err := m.client.DeleteWebhook(ctx, repo, hook.ID); err != nil {
			return removed, fmt.Errorf("failed to delete webhook %d: %w", hook.ID, err)
		}
		m.log.Info("Removed stale tunnel webhook", slog.Int64("id", hook.ID), slog.String("url", hook.URL))
		removed++
	}
	return removed, nil
}

// Status reports the last observed subscription state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastState
}
