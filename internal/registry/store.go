package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides the execution audit trail in SQLite. Rows are written when
// an execution is admitted and on every stage transition; they are retained
// indefinitely and never read back on the hot path.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the execution database under dataPath
// and runs migrations.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "sdlc.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		workflow_type TEXT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		branch TEXT,
		plan_file TEXT,
		pr_url TEXT,
		log_path TEXT,
		started_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Insert records a freshly admitted execution.
func (s *Store) Insert(exec *Execution) error {
	logPath := ""
	if exec.Scope != nil {
		logPath = exec.Scope.Path()
	}
	_, err := s.db.Exec(
		`INSERT INTO executions (id, repo, issue_number, workflow_type, stage, status, branch, plan_file, pr_url, log_path, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.Issue.Repo, exec.Issue.Number, exec.WorkflowType,
		string(exec.Stage), string(exec.Status), exec.Branch, exec.PlanFile,
		exec.PRURL, logPath, exec.StartedAt,
	)
	return err
}

// Update persists the execution's current stage, status, and artifacts.
func (s *Store) Update(exec *Execution) error {
	_, err := s.db.Exec(
		`UPDATE executions
		 SET stage = ?, status = ?, branch = ?, plan_file = ?, pr_url = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(exec.Stage), string(exec.Status), exec.Branch, exec.PlanFile, exec.PRURL, exec.ID,
	)
	return err
}

// Get reads one execution row back, for inspection and tests.
func (s *Store) Get(id string) (*Execution, error) {
	row := s.db.QueryRow(
		`SELECT id, repo, issue_number, workflow_type, stage, status, branch, plan_file, pr_url, started_at
		 FROM executions WHERE id = ?`, id,
	)

	exec := &Execution{}
	var stage, status string
	err := row.Scan(&exec.ID, &exec.Issue.Repo, &exec.Issue.Number, &exec.WorkflowType,
		&stage, &status, &exec.Branch, &exec.PlanFile, &exec.PRURL, &exec.StartedAt)
	if err != nil {
		return nil, err
	}
	exec.Stage = Stage(stage)
	exec.Status = Status(status)
	return exec, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
