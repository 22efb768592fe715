package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Scope is a per-execution log destination. Every admitted workflow execution
// gets its own scope so stage output lands in a predictable audit location:
//
//	{root}/{execution_id}/{workflow_type}/execution.log
//
// The scope's logger writes to the execution log file, so stage progress is
// retained on disk alongside the agent session transcripts saved next to it.
type Scope struct {
	ExecutionID  string
	WorkflowType string

	dir  string
	file *os.File
	log  *slog.Logger
}

// NewScope creates the log directory for an execution and opens its log file.
func NewScope(root, executionID, workflowType string) (*Scope, error) {
	dir := filepath.Join(root, executionID, workflowType)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log scope: %w", err)
	}

	path := filepath.Join(dir, "execution.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution log: %w", err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(handler).With(
		slog.String("execution_id", executionID),
		slog.String("workflow", workflowType),
	)

	return &Scope{
		ExecutionID:  executionID,
		WorkflowType: workflowType,
		dir:          dir,
		file:         file,
		log:          log,
	}, nil
}

// Logger returns the file-backed logger for this execution.
func (s *Scope) Logger() *slog.Logger {
	return s.log
}

// Dir returns the scope directory. Agent session transcripts are saved here
// alongside execution.log.
func (s *Scope) Dir() string {
	return s.dir
}

// Path returns the execution log file path.
func (s *Scope) Path() string {
	return filepath.Join(s.dir, "execution.log")
}

// Close closes the underlying log file.
func (s *Scope) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
