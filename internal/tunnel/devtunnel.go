package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	devtunnelBin = "devtunnel"

	// commandTimeout bounds the short-lived devtunnel CLI calls.
	commandTimeout = 30 * time.Second

	// readyTimeout is how long Host waits for the tunnel to accept connections.
	readyTimeout = 10 * time.Second
)

// authFailurePhrases identify authentication problems in devtunnel output.
var authFailurePhrases = []string{
	"Login token expired",
	"Login required",
	"not authenticated",
	"Unauthorized",
	"Not logged in",
}

// DevtunnelProvider drives the Microsoft devtunnel CLI. All operations shell
// out; the run function is swappable for tests.
type DevtunnelProvider struct {
	tunnelID string
	port     int
	log      *slog.Logger

	mu      sync.Mutex
	hostCmd *exec.Cmd

	run func(ctx context.Context, args ...string) (string, error)
}

// NewDevtunnelProvider creates a provider for the given tunnel ID and local port.
func NewDevtunnelProvider(tunnelID string, port int, logger *slog.Logger) *DevtunnelProvider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &DevtunnelProvider{
		tunnelID: tunnelID,
		port:     port,
		log:      logger,
	}
	p.run = p.runCommand
	return p
}

// Name returns the provider name.
func (p *DevtunnelProvider) Name() string {
	return "devtunnel"
}

// TunnelID returns the tunnel identifier this provider manages.
func (p *DevtunnelProvider) TunnelID() string {
	return p.tunnelID
}

// IsInstalled checks if the devtunnel CLI is installed.
func (p *DevtunnelProvider) IsInstalled() bool {
	_, err := exec.LookPath(devtunnelBin)
	return err == nil
}

// IsAuthenticated checks if the user is logged in to devtunnel.
func (p *DevtunnelProvider) IsAuthenticated(ctx context.Context) bool {
	output, err := p.run(ctx, "user", "show")
	if err != nil {
		return false
	}
	return !containsAuthFailure(output)
}

// Ensure makes the tunnel exist and carry the HTTP port configuration.
// Create-if-missing: an existing tunnel is reused, never recreated.
func (p *DevtunnelProvider) Ensure(ctx context.Context) error {
	if _, err := p.show(ctx); err != nil {
		p.log.Info("creating devtunnel", "id", p.tunnelID)
		if _, err := p.run(ctx, "create", p.tunnelID, "-a"); err != nil {
			if containsAuthFailure(err.Error()) {
				return fmt.Errorf("devtunnel authentication required (run: devtunnel user login -g): %w", err)
			}
			return fmt.Errorf("failed to create devtunnel: %w", err)
		}
	}

	if _, err := p.run(ctx, "port", "create", p.tunnelID, "-p", fmt.Sprint(p.port), "--protocol", "http"); err != nil {
		// Port might already be configured, which is fine.
		if !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("failed to configure port: %w", err)
		}
	}

	return nil
}

// URL derives the public URL for the tunnel port from `devtunnel show`.
// The show output carries a line like "Tunnel ID: name.region"; the public
// endpoint is https://<name>-<port>.<region>.devtunnels.ms.
func (p *DevtunnelProvider) URL(ctx context.Context) (string, error) {
	info, err := p.show(ctx)
	if err != nil {
		return "", err
	}

	var fullID string
	for _, line := range strings.Split(info, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Tunnel ID") {
			if _, value, ok := strings.Cut(line, ":"); ok {
				fullID = strings.TrimSpace(value)
			}
			break
		}
	}
	if fullID == "" {
		return "", fmt.Errorf("could not parse tunnel ID from devtunnel output")
	}

	name, region, ok := strings.Cut(fullID, ".")
	if !ok {
		return "", fmt.Errorf("invalid tunnel ID format: %q", fullID)
	}

	return fmt.Sprintf("https://%s-%d.%s.devtunnels.ms", name, p.port, region), nil
}

// Host starts the long-running tunnel host process and blocks until the
// context is cancelled or the process exits. ready is closed once the tunnel
// reports it accepts connections.
func (p *DevtunnelProvider) Host(ctx context.Context, ready chan<- struct{}) error {
	cmd := exec.CommandContext(ctx, devtunnelBin, "host", p.tunnelID)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start devtunnel host: %w", err)
	}

	p.mu.Lock()
	p.hostCmd = cmd
	p.mu.Unlock()

	readySignalled := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
			p.log.Warn("devtunnel host output", "line", line)
		}
		if !readySignalled &&
			(strings.Contains(line, "Starting tunnel host") || strings.Contains(line, "Ready to accept connections")) {
			readySignalled = true
			if ready != nil {
				close(ready)
			}
		}
	}

	err = cmd.Wait()

	p.mu.Lock()
	p.hostCmd = nil
	p.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("devtunnel host exited: %w", err)
	}
	return nil
}

// Stop terminates a running host process, if any.
func (p *DevtunnelProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hostCmd == nil || p.hostCmd.Process == nil {
		return nil
	}
	return p.hostCmd.Process.Kill()
}

// Delete removes the tunnel. A tunnel that does not exist is not an error.
func (p *DevtunnelProvider) Delete(ctx context.Context) error {
	if _, err := p.run(ctx, "delete", p.tunnelID, "-f"); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil
		}
		return fmt.Errorf("failed to delete devtunnel: %w", err)
	}
	return nil
}

// show returns the tunnel info text, or an error when the tunnel is absent.
func (p *DevtunnelProvider) show(ctx context.Context) (string, error) {
	output, err := p.run(ctx, "show", p.tunnelID)
	if err != nil {
		if containsAuthFailure(err.Error()) {
			return "", fmt.Errorf("devtunnel authentication required (run: devtunnel user login -g): %w", err)
		}
		return "", err
	}
	return output, nil
}

// runCommand executes a devtunnel CLI call with a bounded timeout.
func (p *DevtunnelProvider) runCommand(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, devtunnelBin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", devtunnelBin, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

func containsAuthFailure(output string) bool {
	for _, phrase := range authFailurePhrases {
		if strings.Contains(output, phrase) {
			return true
		}
	}
	return false
}
