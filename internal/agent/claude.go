// Package agent wraps the Claude Code CLI, the opaque capability that
// performs AI reasoning for workflow stages. Each invocation is bounded by
// the caller's context and its JSONL transcript is saved under the
// execution's log scope.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/danielscholl/claude-sdlc/internal/logging"
)

// Result is the outcome of one agent invocation.
type Result struct {
	// Output is the final result text produced by the agent.
	Output string
	// SessionID identifies the agent session, when the CLI reported one.
	SessionID string
}

// Executor runs agent invocations. The CLI implementation shells out to
// Claude Code; tests substitute fakes.
type Executor interface {
	// RunSlash executes a slash command with arguments.
	RunSlash(ctx context.Context, command string, args []string, name string, scope *logging.Scope) (*Result, error)

	// RunPrompt executes a direct prompt.
	RunPrompt(ctx context.Context, prompt string, name string, scope *logging.Scope) (*Result, error)

	// IsAvailable reports whether the agent CLI is installed.
	IsAvailable() bool
}

// CommandChecker reports whether a user-defined slash command exists.
type CommandChecker interface {
	CommandExists(name string) bool
}

// CLI is the Claude Code CLI implementation of Executor and CommandChecker.
type CLI struct {
	command string
	model   string
	workDir string
	log     *slog.Logger

	// run is swappable for tests.
	run func(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// NewCLI creates a Claude Code CLI executor using the given model.
// workDir is the repository the agent operates in ("" means process cwd).
func NewCLI(model, workDir string) *CLI {
	c := &CLI{
		command: "claude",
		model:   model,
		workDir: workDir,
		log:     logging.WithComponent("agent"),
	}
	c.run = c.runCommand
	return c
}

// IsAvailable checks if the Claude Code CLI is installed.
func (c *CLI) IsAvailable() bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

// RunSlash executes a slash command: claude --print --model <m> "<cmd> <args>".
func (c *CLI) RunSlash(ctx context.Context, command string, args []string, name string, scope *logging.Scope) (*Result, error) {
	prompt := command
	if len(args) > 0 {
		prompt = command + " " + strings.Join(args, " ")
	}
	if name == "" {
		name = strings.ReplaceAll(strings.TrimPrefix(command, "/"), ":", "_")
	}
	return c.RunPrompt(ctx, prompt, name, scope)
}

// RunPrompt executes a direct prompt and parses the stream-json output.
func (c *CLI) RunPrompt(ctx context.Context, prompt string, name string, scope *logging.Scope) (*Result, error) {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--model", c.model,
		prompt,
	}

	c.log.Debug("Running agent invocation",
		slog.String("name", name),
		slog.String("model", c.model),
	)

	raw, err := c.run(ctx, c.workDir, c.command, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("agent invocation %q timed out: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("agent invocation %q failed: %w", name, err)
	}

	result := parseStreamJSON(string(raw))

	if scope != nil {
		c.saveTranscript(scope, name, result.SessionID, raw)
	}

	return result, nil
}

// parseStreamJSON extracts the final result and session ID from the CLI's
// JSONL output. The last JSON line carries both; non-JSON output is returned
// verbatim.
func parseStreamJSON(output string) *Result {
	result := &Result{Output: strings.TrimSpace(output)}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var data struct {
			SessionID string `json:"session_id"`
			Result    string `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &data); err != nil {
			continue
		}
		if data.SessionID != "" {
			result.SessionID = data.SessionID
		}
		if data.Result != "" {
			result.Output = data.Result
		}
		break
	}

	return result
}

// saveTranscript writes the raw JSONL stream into the execution scope.
func (c *CLI) saveTranscript(scope *logging.Scope, name, sessionID string, raw []byte) {
	file := name + ".jsonl"
	if sessionID != "" {
		file = fmt.Sprintf("%s-%s.jsonl", name, sessionID)
	}
	path := filepath.Join(scope.Dir(), file)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		c.log.Warn("Failed to save agent transcript", slog.String("path", path), slog.Any("error", err))
	}
}

// runCommand executes the CLI and returns combined output.
func (c *CLI) runCommand(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = os.Environ()

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s exited with %d: %s", name, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return output, nil
}

// CommandExists reports whether a user-defined slash command is configured:
// .claude/commands/<name>.md relative to the working directory.
func (c *CLI) CommandExists(name string) bool {
	name = strings.TrimPrefix(name, "/")
	path := filepath.Join(c.workDir, ".claude", "commands", name+".md")
	_, err := os.Stat(path)
	return err == nil
}
