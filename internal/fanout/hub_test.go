package fanout

import (
	"testing"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

func TestHub_PushIdempotence(t *testing.T) {
	h := NewHub(0)
	snap := model.Snapshot{GeneratedAt: time.Now(), Summary: model.Summary{TotalAgents: 1}}

	if !h.Push(snap, nil) {
		t.Fatal("expected first push to take effect")
	}
	if h.Push(snap, nil) {
		t.Fatal("expected identical snapshot to be suppressed")
	}

	snap.Summary.TotalAgents = 2
	if !h.Push(snap, nil) {
		t.Fatal("expected changed snapshot to push")
	}
}

func TestHub_SubscribeReceivesCurrentThenUpdates(t *testing.T) {
	h := NewHub(0)
	h.Push(model.Snapshot{Summary: model.Summary{TotalAgents: 1}}, nil)

	sub, err := h.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer h.Unsubscribe(sub)

	select {
	case msg := <-sub.C():
		if len(msg) == 0 {
			t.Fatal("expected non-empty initial snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	h.Push(model.Snapshot{Summary: model.Summary{TotalAgents: 2}}, nil)
	select {
	case msg := <-sub.C():
		if len(msg) == 0 {
			t.Fatal("expected non-empty update")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed update")
	}
}

func TestHub_MaxSubscribers(t *testing.T) {
	h := NewHub(1)
	sub, err := h.Subscribe()
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	defer h.Unsubscribe(sub)

	if _, err := h.Subscribe(); err != ErrTooManySubscribers {
		t.Fatalf("expected ErrTooManySubscribers, got %v", err)
	}
}

func TestHub_SlowSubscriberDropsMessageNotBlock(t *testing.T) {
	h := NewHub(0)
	sub, _ := h.Subscribe()
	defer h.Unsubscribe(sub)

	// Fill the subscriber's buffer without draining it.
	for i := 0; i < 64; i++ {
		h.Push(model.Snapshot{Summary: model.Summary{TotalAgents: i}}, nil)
	}
	// Push should never block even though the subscriber never reads.
	h.Push(model.Snapshot{Summary: model.Summary{TotalAgents: 999}}, nil)
}
