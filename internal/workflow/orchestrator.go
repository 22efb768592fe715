// Package workflow runs the issue-to-pull-request pipeline. The dispatcher
// admits executions off normalized webhook events; the orchestrator drives
// each admitted execution through its stages, posting progress back to the
// issue thread after every transition.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/agent"
	"github.com/danielscholl/claude-sdlc/internal/logging"
	"github.com/danielscholl/claude-sdlc/internal/registry"
	"github.com/danielscholl/claude-sdlc/internal/trigger"
	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// stageAttempts bounds retries of a single external call within a stage.
const stageAttempts = 2

// retryDelay spaces the retry attempts. Variable so tests can shorten it.
var retryDelay = 5 * time.Second

// urlPattern extracts the pull request URL from agent output.
var urlPattern = regexp.MustCompile(`https?://\S+`)

// Orchestrator executes admitted workflows stage by stage. Each stage runs
// under its own timeout; a stage failure terminates the execution with a
// failed status and a comment naming the stage.
type Orchestrator struct {
	registry     *registry.Registry
	executor     agent.Executor
	git          *vcs.Git
	stageTimeout time.Duration
	log          *slog.Logger
}

// NewOrchestrator creates an orchestrator. stageTimeout bounds every external
// call an individual stage makes.
func NewOrchestrator(reg *registry.Registry, executor agent.Executor, git *vcs.Git, stageTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		registry:     reg,
		executor:     executor,
		git:          git,
		stageTimeout: stageTimeout,
		log:          logging.WithComponent("workflow"),
	}
}

// Run drives one execution from admission to a terminal status. It is called
// on its own goroutine; ctx is the watcher's lifetime, checked between stages
// so a shutdown abandons the pipeline instead of starting the next stage.
func (o *Orchestrator) Run(ctx context.Context, exec *registry.Execution, client vcs.Client, decision trigger.Decision, issue *vcs.Issue) {
	log := o.log.With(slog.String("execution", exec.ID), slog.String("issue", exec.Issue.Key()))
	scoped := exec.Scope.Logger()

	log.Info("Workflow started", slog.String("type", exec.WorkflowType))
	scoped.Info("Workflow started",
		slog.String("type", exec.WorkflowType),
		slog.String("command", decision.Command.Slash()),
		slog.Bool("plan_only", decision.PlanOnly),
	)

	o.comment(ctx, client, exec, startMessage(exec, decision))

	if !o.executor.IsAvailable() {
		o.fail(ctx, client, exec, "agent preflight", errors.New("claude CLI is not installed"))
		return
	}

	issueJSON, err := json.Marshal(issue)
	if err != nil {
		o.fail(ctx, client, exec, "agent preflight", fmt.Errorf("failed to encode issue: %w", err))
		return
	}

	// Branch.
	branchResult, err := o.runAgent(ctx, exec, "/branch", []string{exec.WorkflowType, exec.ID, string(issueJSON)}, "branch")
	if err != nil {
		o.fail(ctx, client, exec, "branch", err)
		return
	}
	exec.Branch = lastLine(branchResult.Output)
	o.advance(exec, registry.StageBranchCreated, scoped)
	o.comment(ctx, client, exec, fmt.Sprintf("✅ `%s` created branch `%s`", exec.ID, exec.Branch))

	if ctx.Err() != nil {
		o.abandon(exec, scoped)
		return
	}

	// Plan.
	planArg := fmt.Sprintf("%s: %s", issue.Title, issue.Body)
	if _, err := o.runAgent(ctx, exec, decision.Command.Slash(), []string{planArg}, "plan"); err != nil {
		o.fail(ctx, client, exec, "plan", err)
		return
	}
	o.advance(exec, registry.StagePlanGenerated, scoped)
	o.comment(ctx, client, exec, fmt.Sprintf("✅ `%s` generated the implementation plan", exec.ID))

	// Commit plan.
	commitMsg := fmt.Sprintf("%s: add plan for issue #%d", exec.WorkflowType, exec.Issue.Number)
	if err := o.runGit(ctx, func(stageCtx context.Context) error {
		return o.git.CommitAll(stageCtx, commitMsg)
	}); err != nil {
		o.fail(ctx, client, exec, "plan commit", err)
		return
	}
	o.advance(exec, registry.StagePlanCommitted, scoped)

	if decision.PlanOnly {
		o.registry.Finish(exec, registry.StatusStoppedPlanOnly)
		o.comment(ctx, client, exec, fmt.Sprintf("✅ `%s` plan committed; stopping here as requested (plan only)", exec.ID))
		log.Info("Workflow stopped after plan", slog.String("status", string(registry.StatusStoppedPlanOnly)))
		return
	}

	if ctx.Err() != nil {
		o.abandon(exec, scoped)
		return
	}

	// Locate plan file.
	if err := o.runGit(ctx, func(stageCtx context.Context) error {
		path, err := o.git.LocateCommittedPlanFile(stageCtx)
		if err != nil {
			// The plan may still be sitting in the working tree when the
			// commit included unrelated files.
			path, err = o.git.LocatePlanFile(stageCtx)
			if err != nil {
				return err
			}
		}
		exec.PlanFile = path
		return nil
	}); err != nil {
		o.fail(ctx, client, exec, "plan discovery", err)
		return
	}
	o.advance(exec, registry.StagePlanLocated, scoped)

	// Implement.
	if _, err := o.runAgent(ctx, exec, "/implement", []string{exec.PlanFile}, "implement"); err != nil {
		o.fail(ctx, client, exec, "implement", err)
		return
	}
	o.advance(exec, registry.StageImplemented, scoped)
	o.comment(ctx, client, exec, fmt.Sprintf("✅ `%s` implemented the plan `%s`", exec.ID, exec.PlanFile))

	// Commit implementation.
	commitMsg = fmt.Sprintf("%s: implement plan for issue #%d", exec.WorkflowType, exec.Issue.Number)
	if err := o.runGit(ctx, func(stageCtx context.Context) error {
		return o.git.CommitAll(stageCtx, commitMsg)
	}); err != nil {
		o.fail(ctx, client, exec, "implementation commit", err)
		return
	}
	o.advance(exec, registry.StageImplementationCommitted, scoped)

	if ctx.Err() != nil {
		o.abandon(exec, scoped)
		return
	}

	// Pull request.
	prResult, err := o.runAgent(ctx, exec, "/pull_request", []string{exec.Branch, string(issueJSON), exec.PlanFile, exec.ID}, "pull_request")
	if err != nil {
		o.fail(ctx, client, exec, "pull request", err)
		return
	}
	exec.PRURL = extractURL(prResult.Output)
	o.advance(exec, registry.StagePRCreated, scoped)

	o.registry.Finish(exec, registry.StatusCompleted)
	if exec.PRURL != "" {
		o.comment(ctx, client, exec, fmt.Sprintf("✅ `%s` workflow complete: %s", exec.ID, exec.PRURL))
	} else {
		o.comment(ctx, client, exec, fmt.Sprintf("✅ `%s` workflow complete", exec.ID))
	}
	log.Info("Workflow completed", slog.String("pr", exec.PRURL))
}

// runAgent invokes a slash command under the stage timeout, retrying once on
// failure. Timeouts are not retried; the budget is already spent.
func (o *Orchestrator) runAgent(ctx context.Context, exec *registry.Execution, command string, args []string, name string) (*agent.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= stageAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
		result, err := o.executor.RunSlash(stageCtx, command, args, name, exec.Scope)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			break
		}
		if attempt < stageAttempts {
			o.log.Warn("Agent call failed, retrying",
				slog.String("execution", exec.ID),
				slog.String("name", name),
				slog.Any("error", err),
			)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// runGit runs a local git step under the stage timeout. Local operations are
// not retried.
func (o *Orchestrator) runGit(ctx context.Context, fn func(ctx context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()
	return fn(stageCtx)
}

// advance records a stage transition.
func (o *Orchestrator) advance(exec *registry.Execution, stage registry.Stage, scoped *slog.Logger) {
	exec.Stage = stage
	o.registry.Update(exec)
	scoped.Info("Stage complete", slog.String("stage", string(stage)))
}

// fail terminates the execution, leaving the stage at the last one that
// completed, and tells the issue thread which stage broke.
func (o *Orchestrator) fail(ctx context.Context, client vcs.Client, exec *registry.Execution, stageName string, err error) {
	o.log.Error("Workflow failed",
		slog.String("execution", exec.ID),
		slog.String("failed_stage", stageName),
		slog.Any("error", err),
	)
	exec.Scope.Logger().Error("Workflow failed",
		slog.String("failed_stage", stageName),
		slog.Any("error", err),
	)

	o.registry.Finish(exec, registry.StatusFailed)
	o.comment(ctx, client, exec, fmt.Sprintf("❌ `%s` failed during %s: %v", exec.ID, stageName, err))
}

// abandon handles watcher shutdown between stages: the execution is marked
// failed without a comment since the process is going away.
func (o *Orchestrator) abandon(exec *registry.Execution, scoped *slog.Logger) {
	scoped.Warn("Workflow abandoned on shutdown", slog.String("stage", string(exec.Stage)))
	o.registry.Finish(exec, registry.StatusFailed)
}

// comment posts to the issue thread, best effort. Comment failures are logged
// and never interrupt the pipeline.
func (o *Orchestrator) comment(ctx context.Context, client vcs.Client, exec *registry.Execution, body string) {
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := client.PostComment(postCtx, exec.Issue, body); err != nil {
		o.log.Warn("Failed to post progress comment",
			slog.String("execution", exec.ID),
			slog.Any("error", err),
		)
	}
}

// startMessage builds the admission comment, flagging classification
// fallbacks and plan-only mode.
func startMessage(exec *registry.Execution, decision trigger.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ Starting %s workflow `%s`", exec.WorkflowType, exec.ID)
	if decision.ExplicitCommand == "" {
		if decision.LowConfidence {
			fmt.Fprintf(&b, " (classification unavailable, assuming %s)", exec.WorkflowType)
		} else {
			b.WriteString(" (classified)")
		}
	}
	if decision.PlanOnly {
		b.WriteString(" in plan-only mode")
	}
	return b.String()
}

// lastLine returns the final non-empty line of agent output.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// extractURL pulls the first URL out of agent output, or "" when absent.
func extractURL(output string) string {
	return strings.TrimRight(urlPattern.FindString(output), ".,)")
}
