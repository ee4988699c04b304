package feed

import (
	"testing"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

func TestInsert_StableIDOnlyOnce(t *testing.T) {
	l := New()
	now := time.Now()
	l.Insert("commit-s1-0", model.FeedEvent{Kind: model.FeedCompletion, Message: "first", Timestamp: now})
	l.Insert("commit-s1-0", model.FeedEvent{Kind: model.FeedCompletion, Message: "second", Timestamp: now.Add(time.Second)})

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 event, got %d", len(snap))
	}
	if snap[0].Message != "first" {
		t.Errorf("expected first insert to win, got %q", snap[0].Message)
	}
}

func TestSyncCollisions_EmitsOpenThenResolved(t *testing.T) {
	l := New()
	now := time.Now()

	l.SyncCollisions([]model.Collision{{Path: "a.go"}}, now)
	snap := l.Snapshot()
	if len(snap) != 1 || snap[0].Kind != model.FeedCollision {
		t.Fatalf("expected 1 collision event, got %v", snap)
	}

	l.SyncCollisions(nil, now.Add(time.Second))
	snap = l.Snapshot()
	found := false
	for _, ev := range snap {
		if ev.Kind == model.FeedCollisionResolved {
			found = true
		}
	}
	if !found {
		t.Error("expected a collision_resolved event after collision clears")
	}
}

func TestSyncStallIdle_ClearsAndReadds(t *testing.T) {
	l := New()
	now := time.Now()

	l.SyncStallIdle([]string{"s1"}, map[string]bool{"s1": true}, nil, now)
	snap := l.Snapshot()
	if len(snap) != 1 || snap[0].Kind != model.FeedStall {
		t.Fatalf("expected stall event, got %v", snap)
	}

	l.SyncStallIdle([]string{"s1"}, nil, nil, now.Add(time.Minute))
	snap = l.Snapshot()
	if len(snap) != 0 {
		t.Fatalf("expected stall event cleared once session recovers, got %v", snap)
	}
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	l := New()
	base := time.Now()
	for i := 0; i < 205; i++ {
		l.Insert(StableTurnEventID("error", "s1", i), model.FeedEvent{
			Kind: model.FeedError, Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	snap := l.Snapshot()
	if len(snap) != 200 {
		t.Fatalf("expected feed capped at 200, got %d", len(snap))
	}
}
