// Package tunnel manages the public devtunnel endpoint that exposes the
// local webhook listener. The tunnel is created if missing and reused
// otherwise; it is deleted only on explicit teardown.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotInstalled is returned when the devtunnel CLI is missing.
var ErrNotInstalled = errors.New("devtunnel CLI is not installed (see https://aka.ms/devtunnels/download)")

// ErrNotAuthenticated is returned when the user is not logged in.
var ErrNotAuthenticated = errors.New("not authenticated with devtunnel (run: devtunnel user login -g)")

// Provider is the tunnel backend interface.
type Provider interface {
	Name() string
	TunnelID() string
	IsInstalled() bool
	IsAuthenticated(ctx context.Context) bool
	Ensure(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Host(ctx context.Context, ready chan<- struct{}) error
	Stop() error
	Delete(ctx context.Context) error
}

// Status reports tunnel state for the health endpoint.
type Status struct {
	Provider string `json:"provider"`
	TunnelID string `json:"tunnel_id"`
	URL      string `json:"url,omitempty"`
	Hosting  bool   `json:"hosting"`
}

// Manager manages tunnel lifecycle. Safe for concurrent use.
type Manager struct {
	provider Provider
	logger   *slog.Logger

	mu      sync.Mutex
	ensured bool
	hosting bool
	url     string
}

// NewManager creates a tunnel manager over the given provider.
func NewManager(provider Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		logger:   logger,
	}
}

// Preflight verifies the tunnel CLI is installed and authenticated. It fails
// fast with an actionable message so startup does not proceed into a broken
// tunnel path.
func (m *Manager) Preflight(ctx context.Context) error {
	if !m.provider.IsInstalled() {
		return ErrNotInstalled
	}
	if !m.provider.IsAuthenticated(ctx) {
		return ErrNotAuthenticated
	}
	return nil
}

// EnsureTunnel makes the tunnel exist with the port configured and returns
// its public URL. Calling it again reuses the existing tunnel; it never
// creates a second one.
func (m *Manager) EnsureTunnel(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ensured && m.url != "" {
		return m.url, nil
	}

	m.logger.Info("ensuring tunnel", "id", m.provider.TunnelID())

	if err := m.provider.Ensure(ctx); err != nil {
		return "", fmt.Errorf("tunnel provisioning failed: %w", err)
	}

	url, err := m.provider.URL(ctx)
	if err != nil {
		return "", fmt.Errorf("tunnel provisioning failed: %w", err)
	}

	m.ensured = true
	m.url = url

	m.logger.Info("tunnel ready", "id", m.provider.TunnelID(), "url", url)
	return url, nil
}

// Host starts the tunnel host process and blocks until the context is
// cancelled. It returns once the host has stopped.
func (m *Manager) Host(ctx context.Context) error {
	m.mu.Lock()
	if m.hosting {
		m.mu.Unlock()
		return fmt.Errorf("tunnel host already running")
	}
	m.hosting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.hosting = false
		m.mu.Unlock()
	}()

	ready := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- m.provider.Host(ctx, ready)
	}()

	select {
	case <-ready:
		m.logger.Info("tunnel host ready", "id", m.provider.TunnelID())
	case <-time.After(readyTimeout):
		m.logger.Warn("tunnel host readiness timeout, continuing anyway")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return fmt.Errorf("devtunnel host exited unexpectedly")
	}

	return <-errCh
}

// Teardown stops hosting and deletes the tunnel. Safe to call when no tunnel
// exists.
func (m *Manager) Teardown(ctx context.Context) error {
	if err := m.provider.Stop(); err != nil {
		m.logger.Warn("failed to stop tunnel host", "error", err)
	}

	if err := m.provider.Delete(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.ensured = false
	m.url = ""
	m.mu.Unlock()

	m.logger.Info("tunnel deleted", "id", m.provider.TunnelID())
	return nil
}

// URL returns the public URL, or "" before EnsureTunnel succeeds.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Status reports the current tunnel state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Provider: m.provider.Name(),
		TunnelID: m.provider.TunnelID(),
		URL:      m.url,
		Hosting:  m.hosting,
	}
}
