package hooks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/danielscholl/claude-sdlc/internal/logging"
)

// Reconciler re-verifies the webhook subscription on a schedule while the
// watcher is hosting. This heals drift when the tunnel endpoint changes under
// a stable tunnel ID.
type Reconciler struct {
	manager  *Manager
	repo     string
	url      string
	events   []string
	schedule string
	log      *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewReconciler creates a reconciler that keeps targetURL subscribed on repo.
// schedule is a cron expression (e.g., "@every 5m").
func NewReconciler(manager *Manager, repo, targetURL string, events []string, schedule string) *Reconciler {
	return &Reconciler{
		manager:  manager,
		repo:     repo,
		url:      targetURL,
		events:   events,
		schedule: schedule,
		log:      logging.WithComponent("hooks.reconciler"),
	}
}

// Start begins periodic reconciliation. An empty schedule disables it.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running || r.schedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		if err := r.manager.EnsureWebhook(ctx, r.repo, r.url, r.events); err != nil {
			r.log.Warn("Webhook reconciliation failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}

	c.Start()
	r.cron = c
	r.running = true

	r.log.Info("Webhook reconciler started", slog.String("schedule", r.schedule))
	return nil
}

// Stop halts reconciliation.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.cron.Stop()
	r.running = false
}
