package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielscholl/claude-sdlc/internal/agent"
	"github.com/danielscholl/claude-sdlc/internal/config"
	"github.com/danielscholl/claude-sdlc/internal/gateway"
	"github.com/danielscholl/claude-sdlc/internal/health"
	"github.com/danielscholl/claude-sdlc/internal/hooks"
	"github.com/danielscholl/claude-sdlc/internal/logging"
	"github.com/danielscholl/claude-sdlc/internal/registry"
	"github.com/danielscholl/claude-sdlc/internal/trigger"
	"github.com/danielscholl/claude-sdlc/internal/tunnel"
	"github.com/danielscholl/claude-sdlc/internal/vcs"
	"github.com/danielscholl/claude-sdlc/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		tunnelID   string
		port       int
		remove     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the repository's issues and run workflows",
		Long: `Watch starts the webhook listener, exposes it through a devtunnel,
subscribes the tunnel URL as a webhook on the repository, and runs
workflows for triggering issues and comments until interrupted.

Examples:
  sdlc watch                      # watch with defaults
  sdlc watch --port 9000          # custom listener port
  sdlc watch --tunnel-id my-hook  # explicit tunnel name
  sdlc watch --remove             # remove webhook and tunnel, then exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(configPath, tunnelID, port, remove)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	cmd.Flags().StringVar(&tunnelID, "tunnel-id", "", "devtunnel ID (default: derived from repository name)")
	cmd.Flags().IntVar(&port, "port", 0, "webhook listener port (default: from config)")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the webhook subscription and tunnel, then exit")

	return cmd
}

func runWatch(configPath, tunnelID string, port int, remove bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Gateway.Port = port
	}
	if tunnelID == "" {
		tunnelID = cfg.TunnelID()
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logging.WithComponent("watch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	git := vcs.NewGit("")
	repo, err := git.RemoteRepo(ctx)
	if err != nil {
		return fmt.Errorf("watch must run inside a git repository with an origin remote: %w", err)
	}
	remoteURL, err := git.RemoteURL(ctx)
	if err != nil {
		return err
	}
	platform := detectPlatform(remoteURL)

	clients := make(map[vcs.Platform]vcs.Client)
	if cfg.GitHubToken != "" {
		clients[vcs.PlatformGitHub] = vcs.NewGitHubClient(cfg.GitHubToken)
	}
	if cfg.GitLabToken != "" {
		clients[vcs.PlatformGitLab] = vcs.NewGitLabClient(cfg.GitLabToken)
	}
	client, ok := clients[platform]
	if !ok {
		return fmt.Errorf("no token for %s: set %s", platform, tokenEnvFor(platform))
	}

	resolvedID := tunnel.ResolveID(ctx, tunnelID, git)
	provider := tunnel.NewDevtunnelProvider(resolvedID, cfg.Gateway.Port, logging.WithComponent("tunnel"))
	tunnelMgr := tunnel.NewManager(provider, logging.WithComponent("tunnel"))
	hooksMgr := hooks.NewManager(client)

	if remove {
		return runRemove(ctx, hooksMgr, tunnelMgr, repo)
	}

	if err := tunnelMgr.Preflight(ctx); err != nil {
		return err
	}
	if !agent.NewCLI(cfg.Workflow.Model, "").IsAvailable() {
		return fmt.Errorf("claude CLI is not installed")
	}

	store, err := registry.NewStore(cfg.Workflow.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.New(store, cfg.Workflow.ExecutionsRoot)
	cli := agent.NewCLI(cfg.Workflow.Model, "")
	classifier := agent.NewClassifier(cli)
	resolver := trigger.NewResolver(cfg.Workflow.TriggerTokens, cfg.Workflow.FallbackType, cfg.Workflow.ExecutionsRoot, classifier, cli)
	orchestrator := workflow.NewOrchestrator(reg, cli, git, cfg.Workflow.StageTimeout)
	dispatcher := workflow.NewDispatcher(ctx, resolver, reg, orchestrator, clients)

	checker := health.NewChecker().WithLive(tunnelMgr, hooksMgr, reg)

	server := gateway.NewServer(cfg.Gateway.Host, cfg.Gateway.Port,
		func(dctx context.Context, event *gateway.Event) {
			outcome, exec, err := dispatcher.Handle(dctx, event)
			if err != nil {
				log.Error("Dispatch failed", slog.String("issue", event.Issue.Key()), slog.Any("error", err))
				return
			}
			if outcome == workflow.OutcomeAdmitted {
				log.Info("Execution admitted", slog.String("id", exec.ID), slog.String("issue", event.Issue.Key()))
			}
		},
		func(rctx context.Context) any {
			return checker.Report(rctx)
		},
	)

	publicURL, err := tunnelMgr.EnsureTunnel(ctx)
	if err != nil {
		return err
	}
	webhookURL := publicURL + webhookPathFor(platform)

	if err := server.Start(ctx); err != nil {
		return err
	}

	hostErr := make(chan error, 1)
	go func() {
		hostErr <- tunnelMgr.Host(ctx)
	}()

	if err := hooksMgr.EnsureWebhook(ctx, repo, webhookURL, nil); err != nil {
		return fmt.Errorf("failed to configure webhook on %s: %w", repo, err)
	}

	reconciler := hooks.NewReconciler(hooksMgr, repo, webhookURL, nil, cfg.Tunnel.ReconcileSchedule)
	if err := reconciler.Start(ctx); err != nil {
		log.Warn("Webhook reconciler unavailable", slog.Any("error", err))
	}
	defer reconciler.Stop()

	fmt.Printf("👀 Watching %s (%s)\n", repo, platform)
	fmt.Printf("   Listener:  http://%s\n", server.Addr())
	fmt.Printf("   Webhook:   %s\n", webhookURL)
	fmt.Println("   Press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-hostErr:
		if err != nil {
			return fmt.Errorf("tunnel host failed: %w", err)
		}
		return fmt.Errorf("tunnel host exited")
	}

	fmt.Println("\n🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Gateway shutdown incomplete", slog.Any("error", err))
	}
	if _, err := hooksMgr.RemoveTunnelWebhooks(shutdownCtx, repo); err != nil {
		log.Warn("Webhook removal incomplete", slog.Any("error", err))
	}
	if err := tunnelMgr.Teardown(shutdownCtx); err != nil {
		log.Warn("Tunnel teardown incomplete", slog.Any("error", err))
	}
	fmt.Println("👋 Stopped")
	return nil
}

// runRemove tears down the webhook subscription and the tunnel.
func runRemove(ctx context.Context, hooksMgr *hooks.Manager, tunnelMgr *tunnel.Manager, repo string) error {
	removed, err := hooksMgr.RemoveTunnelWebhooks(ctx, repo)
	if err != nil {
		return fmt.Errorf("failed to remove webhooks: %w", err)
	}
	fmt.Printf("🧹 Removed %d webhook(s) from %s\n", removed, repo)

	if err := tunnelMgr.Teardown(ctx); err != nil {
		return fmt.Errorf("failed to delete tunnel: %w", err)
	}
	fmt.Println("🧹 Tunnel deleted")
	return nil
}

// detectPlatform infers the hosting platform from the origin remote URL.
func detectPlatform(remoteURL string) vcs.Platform {
	if strings.Contains(strings.ToLower(remoteURL), "gitlab") {
		return vcs.PlatformGitLab
	}
	return vcs.PlatformGitHub
}

func webhookPathFor(platform vcs.Platform) string {
	if platform == vcs.PlatformGitLab {
		return "/gl-webhook"
	}
	return "/gh-webhook"
}

func tokenEnvFor(platform vcs.Platform) string {
	if platform == vcs.PlatformGitLab {
		return config.EnvGitLabToken
	}
	return config.EnvGitHubToken
}
