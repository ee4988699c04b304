// Package collision detects two or more active sessions concurrently
// touching the same file that is still dirty in the working tree
// (spec.md §4.6).
package collision

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/vcs"
)

const recencyWindow = 15 * time.Minute

// SessionView is the slice of per-session state the detector needs: which
// project the session belongs to, who owns it, and which files its recent
// turns touched.
type SessionView struct {
	SessionID   string
	AgentID     string
	OperatorID  string
	ProjectPath string
	Turns       []model.TurnNode
}

// Detect runs the Collision Detector over one tick's currently-active
// sessions, grouped by project. vcsAdapter is queried once per distinct
// project path.
func Detect(ctx context.Context, sessions []SessionView, vcsAdapter *vcs.Adapter, now time.Time) []model.Collision {
	byProject := make(map[string][]SessionView)
	for _, s := range sessions {
		byProject[s.ProjectPath] = append(byProject[s.ProjectPath], s)
	}

	var collisions []model.Collision
	for projectPath, projectSessions := range byProject {
		if len(projectSessions) < 2 {
			continue
		}
		collisions = append(collisions, detectForProject(ctx, projectPath, projectSessions, vcsAdapter, now)...)
	}

	sort.Slice(collisions, func(i, j int) bool {
		if collisions[i].Severity != collisions[j].Severity {
			return collisions[i].Severity == model.SeverityCritical
		}
		return collisions[i].Path < collisions[j].Path
	})
	return collisions
}

type touch struct {
	sessionID  string
	agentID    string
	operatorID string
}

func detectForProject(ctx context.Context, projectPath string, sessions []SessionView, vcsAdapter *vcs.Adapter, now time.Time) []model.Collision {
	state := vcsAdapter.Query(ctx, projectPath)

	recencyFloor := state.LastCommitTime
	if floor := now.Add(-recencyWindow); floor.After(recencyFloor) {
		recencyFloor = floor
	}

	touchesByPath := make(map[string][]touch)
	for _, s := range sessions {
		for _, t := range s.Turns {
			if t.Timestamp.Before(recencyFloor) {
				continue
			}
			for _, f := range t.ArtifactFiles {
				// vcs.State.DirtyFiles keys are absolute, repo-root-joined
				// paths (vcs.go normalizes go-git's repo-relative Status()
				// keys); ArtifactFiles come from tool_use file_path inputs,
				// already absolute, but clean them the same way so the two
				// sides agree on separators and `.`/`..` segments.
				path := filepath.Clean(f)
				if !state.AllDirty && !state.DirtyFiles[path] {
					continue
				}
				touchesByPath[path] = append(touchesByPath[path], touch{
					sessionID:  s.SessionID,
					agentID:    s.AgentID,
					operatorID: s.OperatorID,
				})
			}
		}
	}

	var out []model.Collision
	for path, touches := range touchesByPath {
		distinctSessions := make(map[string]bool)
		distinctOperators := make(map[string]bool)
		var agentIDs []string
		seenAgent := make(map[string]bool)
		for _, t := range touches {
			if distinctSessions[t.sessionID] {
				continue
			}
			distinctSessions[t.sessionID] = true
			distinctOperators[t.operatorID] = true
			if !seenAgent[t.agentID] {
				seenAgent[t.agentID] = true
				agentIDs = append(agentIDs, t.agentID)
			}
		}
		if len(distinctSessions) < 2 {
			continue
		}

		severity := model.SeverityWarning
		if len(distinctOperators) > 1 {
			severity = model.SeverityCritical
		}

		out = append(out, model.Collision{
			Path:        path,
			Agents:      agentIDs,
			Severity:    severity,
			DetectedAt:  now,
			ProjectPath: projectPath,
		})
	}
	return out
}
