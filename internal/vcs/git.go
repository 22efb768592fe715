package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"strings"
)

// Git runs local git operations in a working directory. The orchestrator uses
// it to locate generated plan files and to commit stage artifacts.
type Git struct {
	dir string

	// run is swappable for tests.
	run func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGit creates a Git helper rooted at dir ("" means the process working
// directory).
func NewGit(dir string) *Git {
	return &Git{
		dir: dir,
		run: runGit,
	}
}

// NewGitWithRunner creates a Git helper with a custom command runner, for
// tests.
func NewGitWithRunner(dir string, run func(ctx context.Context, dir string, args ...string) (string, error)) *Git {
	return &Git{dir: dir, run: run}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// RemoteURL returns the raw origin remote URL.
func (g *Git) RemoteURL(ctx context.Context) (string, error) {
	remote, err := g.run(ctx, g.dir, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to read origin remote: %w", err)
	}
	return remote, nil
}

// RemoteRepo returns the owner/repo path of the origin remote.
func (g *Git) RemoteRepo(ctx context.Context) (string, error) {
	remote, err := g.run(ctx, g.dir, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("failed to read origin remote: %w", err)
	}
	repo := ExtractRepoPath(remote)
	if repo == "" {
		return "", fmt.Errorf("could not parse repository path from remote %q", remote)
	}
	return repo, nil
}

// RepoName returns the bare repository name of the origin remote.
func (g *Git) RepoName(ctx context.Context) (string, error) {
	repo, err := g.RemoteRepo(ctx)
	if err != nil {
		return "", err
	}
	return path.Base(repo), nil
}

// LocatePlanFile scans git status for a newly produced plan document: the
// first .md file under specs/ or ai-specs/. The plan stage writes exactly one
// such file per branch.
func (g *Git) LocatePlanFile(ctx context.Context) (string, error) {
	status, err := g.run(ctx, g.dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("git status failed: %w", err)
	}

	for _, line := range strings.Split(status, "\n") {
		if len(line) < 4 {
			continue
		}
		// Porcelain format: XY <path>
		file := strings.TrimSpace(line[3:])
		if !strings.HasSuffix(file, ".md") {
			continue
		}
		if strings.Contains(file, "specs/") || strings.Contains(file, "ai-specs/") {
			return file, nil
		}
	}

	return "", fmt.Errorf("no plan file found in git status")
}

// LocateCommittedPlanFile scans the files of the HEAD commit for the plan
// document. Used after the plan commit, when the file no longer shows in
// status output.
func (g *Git) LocateCommittedPlanFile(ctx context.Context) (string, error) {
	files, err := g.run(ctx, g.dir, "show", "--pretty=", "--name-only", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git show failed: %w", err)
	}

	for _, file := range strings.Split(files, "\n") {
		file = strings.TrimSpace(file)
		if !strings.HasSuffix(file, ".md") {
			continue
		}
		if strings.Contains(file, "specs/") || strings.Contains(file, "ai-specs/") {
			return file, nil
		}
	}

	return "", fmt.Errorf("no plan file found in HEAD commit")
}

// CommitAll stages everything and commits with the given message.
func (g *Git) CommitAll(ctx context.Context, message string) error {
	if _, err := g.run(ctx, g.dir, "add", "."); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	if _, err := g.run(ctx, g.dir, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

// ExtractRepoPath parses an owner/repo path out of an HTTPS or SSH remote URL.
// Returns "" when the URL cannot be parsed.
func ExtractRepoPath(remote string) string {
	remote = strings.TrimSpace(remote)
	remote = strings.TrimSuffix(remote, "/")
	remote = strings.TrimSuffix(remote, ".git")

	// SSH form: git@host:owner/repo
	if i := strings.Index(remote, "@"); i >= 0 && !strings.Contains(remote, "://") {
		if j := strings.Index(remote, ":"); j > i {
			return remote[j+1:]
		}
	}

	// HTTPS form: https://host/owner/repo[/sub/groups]
	if i := strings.Index(remote, "://"); i >= 0 {
		rest := remote[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j+1:]
		}
	}

	return ""
}
