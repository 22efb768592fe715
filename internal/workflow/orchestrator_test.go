package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/agent"
	"github.com/danielscholl/claude-sdlc/internal/logging"
	"github.com/danielscholl/claude-sdlc/internal/registry"
	"github.com/danielscholl/claude-sdlc/internal/trigger"
	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// fakeExecutor plays back canned results per invocation name and can be told
// to fail specific invocations.
type fakeExecutor struct {
	mu      sync.Mutex
	outputs map[string]string
	fail    map[string]int // name -> remaining failures
	calls   []string
}

func (f *fakeExecutor) RunSlash(ctx context.Context, command string, args []string, name string, scope *logging.Scope) (*agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if remaining, ok := f.fail[name]; ok && remaining > 0 {
		f.fail[name] = remaining - 1
		return nil, fmt.Errorf("invocation %s failed", name)
	}
	return &agent.Result{Output: f.outputs[name]}, nil
}

func (f *fakeExecutor) RunPrompt(ctx context.Context, prompt string, name string, scope *logging.Scope) (*agent.Result, error) {
	return f.RunSlash(ctx, prompt, nil, name, scope)
}

func (f *fakeExecutor) IsAvailable() bool { return true }

func (f *fakeExecutor) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// commentingClient records posted comments.
type commentingClient struct {
	mu       sync.Mutex
	comments []string
}

func (c *commentingClient) Platform() vcs.Platform { return vcs.PlatformGitHub }

func (c *commentingClient) FetchIssue(ctx context.Context, ref vcs.IssueRef) (*vcs.Issue, error) {
	return &vcs.Issue{Number: ref.Number, Title: "Fix the crash", Body: "it crashes"}, nil
}

func (c *commentingClient) PostComment(ctx context.Context, ref vcs.IssueRef, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments = append(c.comments, body)
	return nil
}

func (c *commentingClient) ListWebhooks(ctx context.Context, repo string) ([]vcs.Webhook, error) {
	return nil, nil
}

func (c *commentingClient) CreateWebhook(ctx context.Context, repo, targetURL string, events []string) (int64, error) {
	return 0, nil
}

func (c *commentingClient) DeleteWebhook(ctx context.Context, repo string, id int64) error {
	return nil
}

func (c *commentingClient) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.comments...)
}

func (c *commentingClient) containing(substr string) bool {
	for _, comment := range c.all() {
		if strings.Contains(comment, substr) {
			return true
		}
	}
	return false
}

// fakeGit answers the orchestrator's git calls.
func fakeGit(planFile string, commitErr error) *vcs.Git {
	return vcs.NewGitWithRunner("", func(ctx context.Context, dir string, args ...string) (string, error) {
		switch args[0] {
		case "add":
			return "", nil
		case "commit":
			if commitErr != nil {
				return "", commitErr
			}
			return "", nil
		case "show":
			return "README.md\n" + planFile + "\nmain.go", nil
		case "status":
			return "?? " + planFile, nil
		}
		return "", fmt.Errorf("unexpected git call: %v", args)
	})
}

func defaultOutputs() map[string]string {
	return map[string]string{
		"branch":       "Creating branch...\nbug-issue-3-fix",
		"plan":         "plan written",
		"implement":    "done",
		"pull_request": "Opened https://github.com/owner/repo/pull/12",
	}
}

func testDecision(planOnly bool) trigger.Decision {
	return trigger.Decision{
		Matched:      true,
		WorkflowType: "bug",
		PlanOnly:     planOnly,
		Command:      trigger.CommandReference{Kind: trigger.CommandBuiltIn, Type: "bug"},
	}
}

func runWorkflow(t *testing.T, executor *fakeExecutor, git *vcs.Git, planOnly bool) (*registry.Execution, *commentingClient) {
	t.Helper()

	reg := registry.New(nil, t.TempDir())
	exec, err := reg.Allocate(vcs.IssueRef{Repo: "owner/repo", Number: 3}, "bug", registry.NewExecutionID())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	client := &commentingClient{}
	issue := &vcs.Issue{Number: 3, Title: "Fix the crash", Body: "it crashes"}

	o := NewOrchestrator(reg, executor, git, time.Minute)
	o.Run(context.Background(), exec, client, testDecision(planOnly), issue)

	return exec, client
}

func TestRunCompletesFullPipeline(t *testing.T) {
	executor := &fakeExecutor{outputs: defaultOutputs()}
	exec, client := runWorkflow(t, executor, fakeGit("specs/issue-3.md", nil), false)

	if exec.Status != registry.StatusCompleted {
		t.Fatalf("Status = %q, want completed", exec.Status)
	}
	if exec.Stage != registry.StagePRCreated {
		t.Errorf("Stage = %q, want PR_CREATED", exec.Stage)
	}
	if exec.Branch != "bug-issue-3-fix" {
		t.Errorf("Branch = %q", exec.Branch)
	}
	if exec.PlanFile != "specs/issue-3.md" {
		t.Errorf("PlanFile = %q", exec.PlanFile)
	}
	if exec.PRURL != "https://github.com/owner/repo/pull/12" {
		t.Errorf("PRURL = %q", exec.PRURL)
	}

	wantOrder := []string{"branch", "plan", "implement", "pull_request"}
	if len(executor.calls) != len(wantOrder) {
		t.Fatalf("agent calls = %v, want %v", executor.calls, wantOrder)
	}
	for i, name := range wantOrder {
		if executor.calls[i] != name {
			t.Errorf("call %d = %q, want %q", i, executor.calls[i], name)
		}
	}

	if !client.containing(exec.PRURL) {
		t.Errorf("final comment should carry the PR URL, have %v", client.all())
	}
}

func TestRunPlanOnlyStopsAfterPlanCommit(t *testing.T) {
	executor := &fakeExecutor{outputs: defaultOutputs()}
	exec, client := runWorkflow(t, executor, fakeGit("specs/issue-3.md", nil), true)

	if exec.Status != registry.StatusStoppedPlanOnly {
		t.Fatalf("Status = %q, want stopped_plan_only", exec.Status)
	}
	if exec.Stage != registry.StagePlanCommitted {
		t.Errorf("Stage = %q, want PLAN_COMMITTED", exec.Stage)
	}
	if executor.callCount("implement") != 0 {
		t.Error("plan-only run must not implement")
	}
	if executor.callCount("pull_request") != 0 {
		t.Error("plan-only run must not open a PR")
	}
	if !client.containing("plan only") {
		t.Errorf("expected plan-only comment, have %v", client.all())
	}
}

func TestRunStageFailureTerminatesWithStageName(t *testing.T) {
	old := retryDelay
	retryDelay = time.Millisecond
	defer func() { retryDelay = old }()

	executor := &fakeExecutor{
		outputs: defaultOutputs(),
		fail:    map[string]int{"implement": stageAttempts},
	}
	exec, client := runWorkflow(t, executor, fakeGit("specs/issue-3.md", nil), false)

	if exec.Status != registry.StatusFailed {
		t.Fatalf("Status = %q, want failed", exec.Status)
	}
	// The stage stays at the last one that completed.
	if exec.Stage != registry.StagePlanLocated {
		t.Errorf("Stage = %q, want PLAN_LOCATED", exec.Stage)
	}
	if !client.containing("failed during implement") {
		t.Errorf("failure comment must name the stage, have %v", client.all())
	}
	if executor.callCount("pull_request") != 0 {
		t.Error("no stage may run after a failure")
	}
}

func TestRunRetriesTransientAgentFailure(t *testing.T) {
	old := retryDelay
	retryDelay = time.Millisecond
	defer func() { retryDelay = old }()

	executor := &fakeExecutor{
		outputs: defaultOutputs(),
		fail:    map[string]int{"plan": 1},
	}
	exec, _ := runWorkflow(t, executor, fakeGit("specs/issue-3.md", nil), false)

	if exec.Status != registry.StatusCompleted {
		t.Fatalf("Status = %q, want completed after retry", exec.Status)
	}
	if got := executor.callCount("plan"); got != 2 {
		t.Errorf("plan called %d times, want 2", got)
	}
}

func TestRunCommitFailure(t *testing.T) {
	executor := &fakeExecutor{outputs: defaultOutputs()}
	exec, client := runWorkflow(t, executor, fakeGit("specs/issue-3.md", errors.New("nothing to commit")), false)

	if exec.Status != registry.StatusFailed {
		t.Fatalf("Status = %q, want failed", exec.Status)
	}
	if exec.Stage != registry.StagePlanGenerated {
		t.Errorf("Stage = %q, want PLAN_GENERATED", exec.Stage)
	}
	if !client.containing("failed during plan commit") {
		t.Errorf("expected plan commit failure comment, have %v", client.all())
	}
}
