package registry

import (
	"testing"
	"time"

	"github.com/danielscholl/claude-sdlc/internal/vcs"
)

func TestStoreInsertAndUpdate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	exec := &Execution{
		ID:           "adw-20260101T120000-deadbeef",
		Issue:        vcs.IssueRef{Repo: "owner/repo", Number: 3},
		WorkflowType: "feature",
		Stage:        StageInit,
		Status:       StatusRunning,
		StartedAt:    time.Now().UTC(),
	}

	if err := store.Insert(exec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	exec.Stage = StagePRCreated
	exec.Status = StatusCompleted
	exec.Branch = "feature-issue-3"
	exec.PlanFile = "specs/issue-3.md"
	exec.PRURL = "https://github.com/owner/repo/pull/12"
	if err := store.Update(exec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(exec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stage != StagePRCreated {
		t.Errorf("Stage = %q, want %q", got.Stage, StagePRCreated)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.Branch != "feature-issue-3" {
		t.Errorf("Branch = %q", got.Branch)
	}
	if got.PRURL != exec.PRURL {
		t.Errorf("PRURL = %q, want %q", got.PRURL, exec.PRURL)
	}
	if got.Issue.Key() != "owner/repo#3" {
		t.Errorf("Issue key = %q", got.Issue.Key())
	}
}
