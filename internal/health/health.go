// Package health verifies the watcher's external prerequisites and composes
// the live status report served by the gateway.
package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/hooks"
	"github.com/danielscholl/claude-sdlc/internal/tunnel"
)

// Check is one prerequisite verification.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the composed health view.
type Report struct {
	Healthy           bool           `json:"healthy"`
	Checks            []Check        `json:"checks"`
	Tunnel            *tunnel.Status `json:"tunnel,omitempty"`
	Webhook           *hooks.Status  `json:"webhook,omitempty"`
	RunningExecutions int            `json:"running_executions"`
	CheckedAt         time.Time      `json:"checked_at"`
}

// RunningCounter reports in-flight executions.
type RunningCounter interface {
	RunningCount() int
}

// Checker runs prerequisite checks. Live components (tunnel, webhook,
// registry) are optional; the health CLI command checks prerequisites only.
type Checker struct {
	binaries []string
	tokens   map[string]string // display name -> env var

	tunnel  *tunnel.Manager
	hooks   *hooks.Manager
	running RunningCounter

	// lookPath is swappable for tests.
	lookPath func(name string) (string, error)
}

// NewChecker creates a checker for the standard prerequisite set: the claude,
// git, and devtunnel CLIs plus the platform tokens.
func NewChecker() *Checker {
	return &Checker{
		binaries: []string{"claude", "git", "devtunnel"},
		tokens: map[string]string{
			"github token": "GITHUB_TOKEN",
			"gitlab token": "GITLAB_TOKEN",
		},
		lookPath: exec.LookPath,
	}
}

// WithLive attaches the live components so gateway reports include tunnel,
// webhook, and execution state.
func (c *Checker) WithLive(t *tunnel.Manager, h *hooks.Manager, running RunningCounter) *Checker {
	c.tunnel = t
	c.hooks = h
	c.running = running
	return c
}

// Report runs every check and composes the result.
func (c *Checker) Report(ctx context.Context) Report {
	report := Report{
		Healthy:   true,
		CheckedAt: time.Now().UTC(),
	}

	for _, bin := range c.binaries {
		check := Check{Name: bin + " CLI", OK: true}
		if _, err := c.lookPath(bin); err != nil {
			check.OK = false
			check.Detail = fmt.Sprintf("%s not found on PATH", bin)
			report.Healthy = false
		}
		report.Checks = append(report.Checks, check)
	}

	tokenOK := false
	for name, env := range c.tokens {
		check := Check{Name: name, OK: os.Getenv(env) != ""}
		if check.OK {
			tokenOK = true
		} else {
			check.Detail = env + " is not set"
		}
		report.Checks = append(report.Checks, check)
	}
	// At least one platform token must be present.
	if !tokenOK {
		report.Healthy = false
	}

	if c.tunnel != nil {
		status := c.tunnel.Status()
		report.Tunnel = &status
	}
	if c.hooks != nil {
		status := c.hooks.Status()
		report.Webhook = &status
	}
	if c.running != nil {
		report.RunningExecutions = c.running.RunningCount()
	}

	return report
}

// Summary renders the report for terminal output.
func Summary(report Report) string {
	var b strings.Builder
	for _, check := range report.Checks {
		mark := "✅"
		if !check.OK {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s %s", mark, check.Name)
		if check.Detail != "" {
			fmt.Fprintf(&b, " (%s)", check.Detail)
		}
		b.WriteString("\n")
	}
	if report.Healthy {
		b.WriteString("\nAll checks passed.\n")
	} else {
		b.WriteString("\nSome checks failed. Fix the items above before running watch.\n")
	}
	return b.String()
}
