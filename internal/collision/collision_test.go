package collision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/vcs"
)

func TestDetect_CriticalAcrossOperators(t *testing.T) {
	now := time.Now()
	sessions := []SessionView{
		{
			SessionID: "s1", AgentID: "a1", OperatorID: "op1", ProjectPath: "/proj",
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{"shared.go"}}},
		},
		{
			SessionID: "s2", AgentID: "a2", OperatorID: "op2", ProjectPath: "/proj",
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{"shared.go"}}},
		},
	}

	got := Detect(context.Background(), sessions, vcs.NewAdapter(), now)
	if len(got) != 1 {
		t.Fatalf("expected 1 collision, got %d", len(got))
	}
	if got[0].Severity != model.SeverityCritical {
		t.Errorf("expected critical severity, got %s", got[0].Severity)
	}
	if len(got[0].Agents) != 2 {
		t.Errorf("expected 2 agents, got %v", got[0].Agents)
	}
}

func TestDetect_WarningSameOperator(t *testing.T) {
	now := time.Now()
	sessions := []SessionView{
		{
			SessionID: "s1", AgentID: "a1", OperatorID: "op1", ProjectPath: "/proj",
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{"shared.go"}}},
		},
		{
			SessionID: "s2", AgentID: "a2", OperatorID: "op1", ProjectPath: "/proj",
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{"shared.go"}}},
		},
	}

	got := Detect(context.Background(), sessions, vcs.NewAdapter(), now)
	if len(got) != 1 || got[0].Severity != model.SeverityWarning {
		t.Fatalf("expected 1 warning collision, got %v", got)
	}
}

func TestDetect_NoCollisionBelowTwoSessions(t *testing.T) {
	sessions := []SessionView{
		{SessionID: "s1", ProjectPath: "/proj"},
	}
	got := Detect(context.Background(), sessions, vcs.NewAdapter(), time.Now())
	if len(got) != 0 {
		t.Fatalf("expected no collisions, got %v", got)
	}
}

// initRepoWithCommittedFile creates a real git repository under t.TempDir(),
// commits the given relative path, and returns its absolute path. Exercising
// a real go-git Worktree.Status() call (rather than the AllDirty fallback)
// is what actually covers the repo-relative-vs-absolute path normalization
// between vcs.State.DirtyFiles and TurnNode.ArtifactFiles.
func initRepoWithCommittedFile(t *testing.T, dir, rel string) string {
	t.Helper()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}

	abs := filepath.Join(dir, rel)
	if err := os.WriteFile(abs, []byte("package x\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := wt.Add(rel); err != nil {
		t.Fatalf("add: %v", err)
	}
	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return abs
}

func TestDetect_RealGitRepoMatchesAbsoluteArtifactPaths(t *testing.T) {
	dir := t.TempDir()
	shared := initRepoWithCommittedFile(t, dir, "shared.go")

	// Dirty the file after the commit so go-git's Status() reports it.
	if err := os.WriteFile(shared, []byte("package x\n\nvar y int\n"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	now := time.Now()
	sessions := []SessionView{
		{
			SessionID: "s1", AgentID: "a1", OperatorID: "op1", ProjectPath: dir,
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{shared}}},
		},
		{
			SessionID: "s2", AgentID: "a2", OperatorID: "op2", ProjectPath: dir,
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{shared}}},
		},
	}

	got := Detect(context.Background(), sessions, vcs.NewAdapter(), now)
	if len(got) != 1 {
		t.Fatalf("expected 1 collision against a real dirty file, got %d: %v", len(got), got)
	}
	if got[0].Path != filepath.Clean(shared) {
		t.Errorf("expected collision path %q, got %q", shared, got[0].Path)
	}
}

func TestDetect_RealGitRepoCleanFileNoCollision(t *testing.T) {
	dir := t.TempDir()
	clean := initRepoWithCommittedFile(t, dir, "clean.go")

	now := time.Now()
	sessions := []SessionView{
		{
			SessionID: "s1", AgentID: "a1", OperatorID: "op1", ProjectPath: dir,
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{clean}}},
		},
		{
			SessionID: "s2", AgentID: "a2", OperatorID: "op2", ProjectPath: dir,
			Turns: []model.TurnNode{{Timestamp: now, ArtifactFiles: []string{clean}}},
		},
	}

	got := Detect(context.Background(), sessions, vcs.NewAdapter(), now)
	if len(got) != 0 {
		t.Fatalf("expected no collision for a committed, clean file, got %v", got)
	}
}
