package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielscholl/claude-sdlc/internal/gateway"
	"github.com/danielscholl/claude-sdlc/internal/logging"
	"github.com/danielscholl/claude-sdlc/internal/registry"
	"github.com/danielscholl/claude-sdlc/internal/trigger"
	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// Outcome is the dispatcher's verdict on one event.
type Outcome int

const (
	// OutcomeIgnored means the event carried no trigger; nothing ran.
	OutcomeIgnored Outcome = iota
	// OutcomeAdmitted means an execution was admitted and is running.
	OutcomeAdmitted
	// OutcomeRejected means an execution is already running for the issue.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Dispatcher routes normalized events into executions. Admission is atomic
// with respect to the registry's concurrency guard; the pipeline itself runs
// on a background goroutine decoupled from the webhook request.
type Dispatcher struct {
	resolver     *trigger.Resolver
	registry     *registry.Registry
	orchestrator *Orchestrator
	clients      map[vcs.Platform]vcs.Client
	log          *slog.Logger

	// runCtx is the watcher's lifetime, not the HTTP request's. Pipelines
	// outlive the requests that started them.
	runCtx context.Context

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. runCtx bounds the lifetime of admitted
// pipelines; it should be the watcher's root context.
func NewDispatcher(runCtx context.Context, resolver *trigger.Resolver, reg *registry.Registry, orchestrator *Orchestrator, clients map[vcs.Platform]vcs.Client) *Dispatcher {
	return &Dispatcher{
		resolver:     resolver,
		registry:     reg,
		orchestrator: orchestrator,
		clients:      clients,
		log:          logging.WithComponent("dispatcher"),
		runCtx:       runCtx,
	}
}

// Handle resolves and, when triggered, admits one event. It returns once the
// admission decision is made; the pipeline continues in the background. ctx
// bounds only the resolution work done inline.
func (d *Dispatcher) Handle(ctx context.Context, event *gateway.Event) (Outcome, *registry.Execution, error) {
	client, ok := d.clients[event.Platform]
	if !ok {
		return OutcomeIgnored, nil, fmt.Errorf("no client configured for platform %q", event.Platform)
	}

	issue, err := client.FetchIssue(ctx, event.Issue)
	if err != nil {
		return OutcomeIgnored, nil, fmt.Errorf("failed to fetch issue %s: %w", event.Issue.Key(), err)
	}

	// The execution ID exists before admission so classification transcripts
	// land under it.
	execID := registry.NewExecutionID()

	decision := d.resolver.Resolve(ctx, event, issue.Title, issue.Body, execID)
	if !decision.Matched {
		d.log.Debug("Event carries no trigger, ignoring",
			slog.String("issue", event.Issue.Key()),
			slog.String("kind", string(event.Kind)),
		)
		return OutcomeIgnored, nil, nil
	}

	exec, err := d.registry.Allocate(event.Issue, decision.WorkflowType, execID)
	if err != nil {
		if errors.Is(err, registry.ErrConcurrencyConflict) {
			d.log.Info("Execution rejected, issue busy", slog.String("issue", event.Issue.Key()))
			d.postBusyComment(ctx, client, event.Issue)
			return OutcomeRejected, nil, nil
		}
		return OutcomeIgnored, nil, err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.orchestrator.Run(d.runCtx, exec, client, decision, issue)
	}()

	return OutcomeAdmitted, exec, nil
}

// Wait blocks until every admitted pipeline has reached a terminal status.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RunningCount reports in-flight executions for the health endpoint.
func (d *Dispatcher) RunningCount() int {
	return d.registry.RunningCount()
}

func (d *Dispatcher) postBusyComment(ctx context.Context, client vcs.Client, ref vcs.IssueRef) {
	body := "⏳ A workflow is already running for this issue. Please wait for it to finish before triggering another."
	if err := client.PostComment(ctx, ref, body); err != nil {
		d.log.Warn("Failed to post busy comment", slog.String("issue", ref.Key()), slog.Any("error", err))
	}
}
