package discovery

import (
	"testing"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

func TestResolveActive_OpenFDWins(t *testing.T) {
	now := time.Now()
	rollouts := []RolloutFile{
		{Path: "/r/a.jsonl", SessionID: "a", ProjectPath: "/proj", ModifiedAt: now},
		{Path: "/r/b.jsonl", SessionID: "b", ProjectPath: "/proj", ModifiedAt: now.Add(-time.Hour)},
	}
	processes := []ActiveProcess{
		{PID: 1, WorkingDir: "/proj", Family: model.FamilyClaude, OpenRollout: "/r/b.jsonl"},
	}

	got := ResolveActive(rollouts, processes, now, nil)
	if !got["b"] {
		t.Error("expected session b active via open fd")
	}
	if got["a"] {
		t.Error("session a should not be active")
	}
}

func TestResolveActive_CwdHeuristicPicksMostRecent(t *testing.T) {
	now := time.Now()
	rollouts := []RolloutFile{
		{Path: "/r/a.jsonl", SessionID: "a", ProjectPath: "/proj", ModifiedAt: now},
		{Path: "/r/b.jsonl", SessionID: "b", ProjectPath: "/proj", ModifiedAt: now.Add(-time.Hour)},
	}
	processes := []ActiveProcess{
		{PID: 1, WorkingDir: "/proj", Family: model.FamilyClaude},
	}

	got := ResolveActive(rollouts, processes, now, nil)
	if !got["a"] || got["b"] {
		t.Errorf("expected only most-recent session active, got %v", got)
	}
}

func TestResolveActive_GraceBufferPreventsFlicker(t *testing.T) {
	now := time.Now()
	rollouts := []RolloutFile{
		{Path: "/r/a.jsonl", SessionID: "a", ProjectPath: "/proj", ModifiedAt: now.Add(-10 * time.Second)},
	}
	prev := map[string]bool{"a": true}

	got := ResolveActive(rollouts, nil, now, prev)
	if !got["a"] {
		t.Error("expected grace buffer to keep session a active")
	}
}

func TestResolveActive_GraceBufferExpiresAfter30s(t *testing.T) {
	now := time.Now()
	rollouts := []RolloutFile{
		{Path: "/r/a.jsonl", SessionID: "a", ProjectPath: "/proj", ModifiedAt: now.Add(-time.Minute)},
	}
	prev := map[string]bool{"a": true}

	got := ResolveActive(rollouts, nil, now, prev)
	if got["a"] {
		t.Error("expected grace buffer to expire after 30s")
	}
}

func TestExpandDormant_IncludesRecentSiblingInActiveProject(t *testing.T) {
	now := time.Now()
	rollouts := []RolloutFile{
		{SessionID: "a", ProjectPath: "/proj", ModifiedAt: now},
		{SessionID: "b", ProjectPath: "/proj", ModifiedAt: now.Add(-2 * time.Hour)},
		{SessionID: "c", ProjectPath: "/proj", ModifiedAt: now.Add(-48 * time.Hour)},
	}
	active := map[string]bool{"a": true}

	got := ExpandDormant(rollouts, active, now)
	if !got["b"] {
		t.Error("expected dormant sibling within 24h to be visible")
	}
	if got["c"] {
		t.Error("expected sibling older than 24h to stay hidden")
	}
}
