// Package vcs answers the two working-tree questions the Collision
// Detector needs: when did the project last commit, and which files are
// currently dirty. Grounded in the go-git/v5 usage in
// therealtimex-entire-cli's manual_commit_git.go, traded for
// Worktree.Status()/Repository.Log() instead of shelling out to git.
package vcs

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
)

const queryTimeout = 5 * time.Second

// State is one project's working-tree snapshot for the current tick.
type State struct {
	LastCommitTime time.Time
	// DirtyFiles keys are absolute paths (projectPath joined with go-git's
	// repo-root-relative Status() keys), matching the absolute paths
	// TurnNode.ArtifactFiles carries.
	DirtyFiles map[string]bool
	AllDirty   bool // set when the VCS query failed; the safe fallback
}

// Adapter queries go-git for a project's working-tree state, one call per
// project per tick. Callers are expected to cache the result for the
// duration of a tick themselves (spec.md §4.6 "cache per project per
// tick").
type Adapter struct{}

// NewAdapter returns a go-git-backed VCS adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Query opens the repository at projectPath and reports its last commit
// time and dirty-file set. On any error opening the repo or reading its
// status, it returns the safe fallback: AllDirty=true, so every file is
// treated as a possible collision participant rather than silently hiding
// one (spec.md §4.6). An error reading the log (e.g. no commits yet) keeps
// the dirty set and leaves LastCommitTime zero.
func (a *Adapter) Query(ctx context.Context, projectPath string) State {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result := make(chan State, 1)
	go func() {
		result <- a.queryBlocking(projectPath)
	}()

	select {
	case s := <-result:
		return s
	case <-ctx.Done():
		return State{AllDirty: true}
	}
}

func (a *Adapter) queryBlocking(projectPath string) State {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return State{AllDirty: true}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return State{AllDirty: true}
	}

	status, err := wt.Status()
	if err != nil {
		return State{AllDirty: true}
	}

	// Status() keys are repo-root-relative; the rest of the pipeline (turn
	// artifacts) deals exclusively in absolute paths, so normalize here —
	// the one place that knows both the repo root and the relative path.
	dirty := make(map[string]bool, len(status))
	for path, s := range status {
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			dirty[filepath.Join(projectPath, filepath.FromSlash(path))] = true
		}
	}

	lastCommit, err := lastCommitTime(repo)
	if err != nil {
		return State{DirtyFiles: dirty, AllDirty: false}
	}

	return State{LastCommitTime: lastCommit, DirtyFiles: dirty}
}

func lastCommitTime(repo *git.Repository) (time.Time, error) {
	head, err := repo.Head()
	if err != nil {
		return time.Time{}, err
	}
	commitIter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return time.Time{}, err
	}
	defer commitIter.Close()

	// Log() yields commits newest-first from HEAD, so the first one is the
	// project's last commit time.
	first, err := commitIter.Next()
	if err != nil {
		return time.Time{}, err
	}
	return first.Author.When, nil
}
