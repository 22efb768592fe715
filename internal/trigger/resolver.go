// Package trigger interprets normalized webhook events and decides whether a
// workflow should run, which workflow type, and through which concrete
// command implementation.
package trigger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/danielscholl/claude-sdlc/internal/gateway"
	"github.com/danielscholl/claude-sdlc/internal/logging"
)

// subcommandPattern matches the closed set of workflow subcommands as whole
// tokens. The trailing class keeps lookalikes such as "/buggy-page" or
// "/feature-requests" from counting as commands.
var subcommandPattern = regexp.MustCompile(`(?i)/(feature|bug|chore)(?:[^a-z0-9_-]|$)`)

// planOnlyPatterns are the recognized phrasings that halt the pipeline after
// the plan is committed.
var planOnlyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)--plan-only`),
	regexp.MustCompile(`(?i)plan\s+only`),
	regexp.MustCompile(`(?i)don'?t\s+implement`),
	regexp.MustCompile(`(?i)no\s+implementation`),
	regexp.MustCompile(`(?i)skip\s+implementation`),
	regexp.MustCompile(`(?i)planning\s+only`),
}

// Decision is the resolver's verdict on one event.
type Decision struct {
	// Matched is false when the event carries no trigger token; such events
	// are silently ignored. This is policy, not a failure.
	Matched bool
	// ExplicitCommand is the subcommand found in the text, or "" when the
	// type came from classification.
	ExplicitCommand string
	// WorkflowType is the resolved type: feature, bug, or chore.
	WorkflowType string
	// PlanOnly halts the pipeline after the plan commit.
	PlanOnly bool
	// LowConfidence marks a type that came from the fallback default because
	// classification was unavailable.
	LowConfidence bool
	// Command is the concrete command implementation to invoke.
	Command CommandReference
}

// Classifier determines a workflow type from issue title and body.
type Classifier interface {
	Classify(ctx context.Context, title, body string, scope *logging.Scope) (string, error)
}

// CommandChecker reports whether a user-defined slash command exists.
type CommandChecker interface {
	CommandExists(name string) bool
}

// Resolver turns events into trigger decisions.
type Resolver struct {
	tokens          []string
	fallbackType    string
	transcriptsRoot string
	classifier      Classifier
	checker         CommandChecker
	log             *slog.Logger
}

// NewResolver creates a resolver. tokens are matched case-insensitively;
// fallbackType is used when classification is unavailable. transcriptsRoot is
// where classify session transcripts are captured ("" disables capture).
func NewResolver(tokens []string, fallbackType, transcriptsRoot string, classifier Classifier, checker CommandChecker) *Resolver {
	return &Resolver{
		tokens:          tokens,
		fallbackType:    fallbackType,
		transcriptsRoot: transcriptsRoot,
		classifier:      classifier,
		checker:         checker,
		log:             logging.WithComponent("trigger"),
	}
}

// Resolve produces a Decision for the event. issueTitle and issueBody feed
// classification when the text carries no explicit subcommand; executionID
// names the classify transcript scope. A freshly opened issue triggers
// without a token; comments must carry one, and only the text following the
// token is scanned for subcommands.
func (r *Resolver) Resolve(ctx context.Context, event *gateway.Event, issueTitle, issueBody, executionID string) Decision {
	text := normalizeWhitespace(event.Text)

	commandText := text
	if event.Kind == gateway.EventCommentCreated {
		end := r.triggerTokenEnd(text)
		if end < 0 {
			return Decision{Matched: false}
		}
		commandText = text[end:]
	}

	decision := Decision{Matched: true}
	decision.ExplicitCommand = firstSubcommand(commandText)
	decision.PlanOnly = hasPlanOnlySignal(text)

	if decision.ExplicitCommand != "" {
		decision.WorkflowType = decision.ExplicitCommand
	} else {
		scope := r.classifyScope(executionID)
		if scope != nil {
			defer scope.Close()
		}
		workflowType, err := r.classifier.Classify(ctx, issueTitle, issueBody, scope)
		if err != nil {
			// Recoverable: fall back deterministically, but keep the
			// decision visibly low-confidence downstream.
			r.log.Warn("Classification unavailable, using fallback type",
				slog.String("fallback", r.fallbackType),
				slog.Any("error", err),
			)
			workflowType = r.fallbackType
			decision.LowConfidence = true
		}
		decision.WorkflowType = workflowType
	}

	decision.Command = r.resolveCommand(decision.WorkflowType)
	return decision
}

// resolveCommand checks for a user-defined command of the given type first
// and falls back to the built-in command of the same semantic type.
func (r *Resolver) resolveCommand(workflowType string) CommandReference {
	if r.checker != nil && r.checker.CommandExists("/"+workflowType) {
		return CommandReference{Kind: CommandUserDefined, Type: workflowType}
	}
	return CommandReference{Kind: CommandBuiltIn, Type: workflowType}
}

// classifyScope allocates the transcript destination for one classification
// run. Returns nil when capture is disabled or allocation fails; the
// classification itself proceeds either way.
func (r *Resolver) classifyScope(executionID string) *logging.Scope {
	if r.transcriptsRoot == "" || executionID == "" {
		return nil
	}
	scope, err := logging.NewScope(r.transcriptsRoot, executionID, "classify")
	if err != nil {
		r.log.Warn("Failed to allocate classify transcript scope", slog.Any("error", err))
		return nil
	}
	return scope
}

// triggerTokenEnd returns the index just past the earliest trigger token in
// the text, or -1 when no token is present. Matching is case-insensitive.
func (r *Resolver) triggerTokenEnd(text string) int {
	lower := strings.ToLower(text)
	start, end := -1, -1
	for _, token := range r.tokens {
		idx := strings.Index(lower, strings.ToLower(token))
		if idx < 0 {
			continue
		}
		if start == -1 || idx < start {
			start = idx
			end = idx + len(token)
		}
	}
	return end
}

// firstSubcommand returns the first explicit subcommand in the text, or ""
// when none is present. Only whole command tokens count.
func firstSubcommand(text string) string {
	match := subcommandPattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.ToLower(match[1])
}

// hasPlanOnlySignal matches the fixed plan-only phrase set.
func hasPlanOnlySignal(text string) bool {
	for _, pattern := range planOnlyPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
