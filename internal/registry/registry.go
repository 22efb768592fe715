// Package registry tracks workflow executions. It enforces the one
// running-execution-per-issue invariant, allocates unique execution IDs and
// per-execution log scopes, and records an audit trail in SQLite.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielscholl/claude-sdlc/internal/logging"
	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

// ErrConcurrencyConflict is returned when an execution is already running for
// the same issue. It is an expected condition, not a system fault.
var ErrConcurrencyConflict = errors.New("an execution is already running for this issue")

// Stage is the orchestrator's position in the pipeline.
type Stage string

const (
	StageInit                    Stage = "INIT"
	StageBranchCreated           Stage = "BRANCH_CREATED"
	StagePlanGenerated           Stage = "PLAN_GENERATED"
	StagePlanCommitted           Stage = "PLAN_COMMITTED"
	StagePlanLocated             Stage = "PLAN_LOCATED"
	StageImplemented             Stage = "IMPLEMENTED"
	StageImplementationCommitted Stage = "IMPLEMENTATION_COMMITTED"
	StagePRCreated               Stage = "PR_CREATED"
)

// Status is an execution's lifecycle state.
type Status string

const (
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusStoppedPlanOnly Status = "stopped_plan_only"
	StatusFailed          Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Execution is one unit of orchestrated work. It is mutated stage-by-stage by
// the orchestrator and becomes immutable once a terminal status is reached.
type Execution struct {
	ID           string
	Issue        vcs.IssueRef
	WorkflowType string
	Stage        Stage
	Status       Status
	Branch       string
	PlanFile     string
	PRURL        string
	StartedAt    time.Time

	// Scope is the execution's log destination.
	Scope *logging.Scope
}

// Registry admits and tracks executions. The running set is guarded by a
// single mutex so concurrent webhook deliveries for the same issue race
// safely.
type Registry struct {
	store          *Store
	executionsRoot string
	log            *slog.Logger

	mu      sync.Mutex
	running map[string]string // issue key -> execution ID
}

// New creates a registry. store may be nil for tests that only exercise the
// concurrency guard.
func New(store *Store, executionsRoot string) *Registry {
	return &Registry{
		store:          store,
		executionsRoot: executionsRoot,
		log:            logging.WithComponent("registry"),
		running:        make(map[string]string),
	}
}

// Allocate atomically admits a new execution for the issue under the given
// ID, or returns ErrConcurrencyConflict when one is already running. The ID
// is caller-supplied (via NewExecutionID) so pre-admission work such as
// classification can already log under it.
func (r *Registry) Allocate(ref vcs.IssueRef, workflowType, id string) (*Execution, error) {
	r.mu.Lock()
	if running, ok := r.running[ref.Key()]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (execution %s)", ErrConcurrencyConflict, running)
	}

	exec := &Execution{
		ID:           id,
		Issue:        ref,
		WorkflowType: workflowType,
		Stage:        StageInit,
		Status:       StatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	r.running[ref.Key()] = exec.ID
	r.mu.Unlock()

	scope, err := logging.NewScope(r.executionsRoot, exec.ID, workflowType)
	if err != nil {
		r.release(ref)
		return nil, fmt.Errorf("failed to allocate log scope: %w", err)
	}
	exec.Scope = scope

	if r.store != nil {
		if err := r.store.Insert(exec); err != nil {
			r.log.Warn("Failed to persist execution", slog.String("id", exec.ID), slog.Any("error", err))
		}
	}

	r.log.Info("Execution admitted",
		slog.String("id", exec.ID),
		slog.String("issue", ref.Key()),
		slog.String("workflow", workflowType),
	)
	return exec, nil
}

// Update persists the execution's current stage and artifacts.
func (r *Registry) Update(exec *Execution) {
	if r.store != nil {
		if err := r.store.Update(exec); err != nil {
			r.log.Warn("Failed to update execution", slog.String("id", exec.ID), slog.Any("error", err))
		}
	}
}

// Finish marks the execution with a terminal status and releases the issue's
// running slot.
func (r *Registry) Finish(exec *Execution, status Status) {
	exec.Status = status
	r.release(exec.Issue)
	r.Update(exec)

	if exec.Scope != nil {
		_ = exec.Scope.Close()
	}

	r.log.Info("Execution finished",
		slog.String("id", exec.ID),
		slog.String("status", string(status)),
		slog.String("stage", string(exec.Stage)),
	)
}

// RunningCount returns the number of in-flight executions.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// IsRunning reports whether an execution is in flight for the issue.
func (r *Registry) IsRunning(ref vcs.IssueRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[ref.Key()]
	return ok
}

func (r *Registry) release(ref vcs.IssueRef) {
	r.mu.Lock()
	delete(r.running, ref.Key())
	r.mu.Unlock()
}

// NewExecutionID generates a unique execution identifier combining a
// timestamp with random entropy: adw-20060102T150405-1a2b3c4d5e6f.
func NewExecutionID() string {
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("adw-%s-%s", time.Now().UTC().Format("20060102T150405"), entropy)
}
