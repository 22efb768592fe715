package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielscholl/claude-sdlc/internal/logging"
)

// classifyPrompt asks the agent to bucket an issue into a workflow type.
const classifyPrompt = `Classify this issue as one of: /feature, /bug, or /chore

Issue Title: %s
Issue Body: %s

Respond with ONLY one of these three options:
- /feature (for new functionality or enhancements)
- /bug (for defects or problems that need fixing)
- /chore (for maintenance, refactoring, or other non-feature work)

Your response:`

// Classifier determines a workflow type from an issue's title and body.
type Classifier struct {
	executor Executor
}

// NewClassifier creates a classifier backed by the given executor.
func NewClassifier(executor Executor) *Classifier {
	return &Classifier{executor: executor}
}

// Classify returns "feature", "bug", or "chore" for the issue. Any executor
// failure or unrecognized response is returned as an error; callers fall back
// to a configured default type.
func (c *Classifier) Classify(ctx context.Context, title, body string, scope *logging.Scope) (string, error) {
	prompt := fmt.Sprintf(classifyPrompt, title, body)

	result, err := c.executor.RunPrompt(ctx, prompt, "classify", scope)
	if err != nil {
		return "", fmt.Errorf("classification unavailable: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(result.Output))
	answer = strings.TrimPrefix(answer, "/")

	switch answer {
	case "feature", "bug", "chore":
		return answer, nil
	}
	return "", fmt.Errorf("classification unavailable: unrecognized response %q", result.Output)
}
