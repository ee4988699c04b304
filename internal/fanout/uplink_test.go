package fanout

import (
	"testing"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/relay"
)

func TestFilterSnapshot_RestrictsToIncludedProjects(t *testing.T) {
	snap := model.Snapshot{
		Agents: []model.Agent{
			{ID: "a1", ProjectPath: "/home/me/proj-a"},
			{ID: "a2", ProjectPath: "/home/me/proj-b"},
		},
		Workstreams: []model.Workstream{
			{ProjectPath: "/home/me/proj-a"},
			{ProjectPath: "/home/me/proj-b"},
		},
		Collisions: []model.Collision{
			{ProjectPath: "/home/me/proj-b"},
		},
	}

	filtered := filterSnapshot(snap, []string{"/home/me/proj-a"})
	if len(filtered.Agents) != 1 || filtered.Agents[0].ID != "a1" {
		t.Fatalf("expected only proj-a's agent, got %+v", filtered.Agents)
	}
	if len(filtered.Workstreams) != 1 {
		t.Fatalf("expected only proj-a's workstream, got %+v", filtered.Workstreams)
	}
	if len(filtered.Collisions) != 0 {
		t.Fatalf("expected proj-b's collision filtered out, got %+v", filtered.Collisions)
	}
}

func TestFilterSnapshot_EmptyListMeansNoFilter(t *testing.T) {
	snap := model.Snapshot{Agents: []model.Agent{{ID: "a1", ProjectPath: "/x"}}}
	filtered := filterSnapshot(snap, nil)
	if len(filtered.Agents) != 1 {
		t.Fatalf("expected no filtering with empty project list, got %+v", filtered.Agents)
	}
}

func TestUplink_QueueSnapshotKeepsOnlyLatest(t *testing.T) {
	codec := &relay.Codec{}
	u := NewUplink(relay.Target{PylonID: "p1"}, codec)

	u.QueueSnapshot(model.Snapshot{Summary: model.Summary{TotalAgents: 1}})
	u.QueueSnapshot(model.Snapshot{Summary: model.Summary{TotalAgents: 2}})

	select {
	case snap := <-u.pending:
		if snap.Summary.TotalAgents != 2 {
			t.Fatalf("expected latest queued snapshot to win, got %d", snap.Summary.TotalAgents)
		}
	default:
		t.Fatal("expected a pending snapshot")
	}
}

func TestUplink_ShouldSendTrueOnFirstSnapshot(t *testing.T) {
	codec := &relay.Codec{}
	u := NewUplink(relay.Target{PylonID: "p1"}, codec)

	snap := model.Snapshot{MessageID: "m1", Summary: model.Summary{TotalAgents: 1}}
	if !u.shouldSend(snap) {
		t.Fatal("expected shouldSend to be true before anything has been sent")
	}
}

func TestUplink_ShouldSendFalseWhenOnlyMessageIDChanges(t *testing.T) {
	codec := &relay.Codec{}
	u := NewUplink(relay.Target{PylonID: "p1"}, codec)

	first := model.Snapshot{MessageID: "m1", Summary: model.Summary{TotalAgents: 1}}
	u.markSent(first)

	second := model.Snapshot{MessageID: "m2", Summary: model.Summary{TotalAgents: 1}}
	if u.shouldSend(second) {
		t.Fatalf("expected shouldSend to ignore MessageID-only differences, got true for %+v", second)
	}
}

func TestUplink_ShouldSendTrueWhenFilteredContentChanges(t *testing.T) {
	codec := &relay.Codec{}
	u := NewUplink(relay.Target{PylonID: "p1"}, codec)

	first := model.Snapshot{MessageID: "m1", Summary: model.Summary{TotalAgents: 1}}
	u.markSent(first)

	second := model.Snapshot{MessageID: "m2", Summary: model.Summary{TotalAgents: 2}}
	if !u.shouldSend(second) {
		t.Fatal("expected shouldSend to be true once the filtered view's content actually changes")
	}
}
