package accumulator

import (
	"testing"

	"github.com/agent-racer/observatory/internal/model"
)

func TestMerge_NonDecreasingAcrossCompaction(t *testing.T) {
	acc := NewSessionAccumulator()

	first := ParsedSession{
		Stats: model.SessionStats{
			TotalTurns:       10,
			ToolCalls:        30,
			ErrorTurns:       2,
			ToolCountsByName: map[string]int{"Edit": 5, "Bash": 10},
			ChangedFiles:     []string{"a.go", "b.go"},
			ErrorTrend:       []bool{false, true, false},
		},
	}
	visible1, _ := acc.Merge(first)
	if visible1.TotalTurns != 10 {
		t.Fatalf("expected 10, got %d", visible1.TotalTurns)
	}

	// Simulate compaction: rewritten file now reports fewer turns than
	// the accumulator has already seen.
	second := ParsedSession{
		Stats: model.SessionStats{
			TotalTurns:       3,
			ToolCalls:        6,
			ErrorTurns:       0,
			ToolCountsByName: map[string]int{"Edit": 2, "Write": 1},
			ChangedFiles:     []string{"b.go", "c.go"},
			ErrorTrend:       []bool{false, false, false},
		},
	}
	visible2, _ := acc.Merge(second)

	if visible2.TotalTurns != 13 {
		t.Errorf("expected summed TotalTurns 13, got %d", visible2.TotalTurns)
	}
	if visible2.TotalTurns < visible1.TotalTurns {
		t.Error("TotalTurns must never decrease across a compaction")
	}
	if visible2.ErrorTurns != 2 {
		t.Errorf("expected summed ErrorTurns 2, got %d", visible2.ErrorTurns)
	}
	if len(visible2.ChangedFiles) != 3 {
		t.Errorf("expected union of 3 changed files, got %v", visible2.ChangedFiles)
	}
	if visible2.ToolCountsByName["Edit"] != 5 {
		t.Errorf("expected max-merged Edit count 5, got %d", visible2.ToolCountsByName["Edit"])
	}
	if len(visible2.ErrorTrend) != 6 {
		t.Errorf("expected prepended+extended error trend of length 6, got %d", len(visible2.ErrorTrend))
	}
}

func TestMergePlans_FallsBackWhenCurrentEmpty(t *testing.T) {
	acc := NewSessionAccumulator()
	plans := []model.Plan{{ID: "p1", Title: "first plan"}}

	got := acc.MergePlans(plans)
	if len(got) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(got))
	}

	fallback := acc.MergePlans(nil)
	if len(fallback) != 1 || fallback[0].ID != "p1" {
		t.Errorf("expected fallback to retain previous plan, got %v", fallback)
	}
}

func TestReindexTurns_OffsetsAfterCompaction(t *testing.T) {
	acc := NewSessionAccumulator()

	first := ParsedSession{
		Turns: []model.TurnNode{{Index: 0}, {Index: 1}, {Index: 2}},
		Stats: model.SessionStats{TotalTurns: 3},
	}
	_, turns1 := acc.Merge(first)
	if turns1[2].Index != 2 {
		t.Fatalf("expected no offset before any compaction, got %d", turns1[2].Index)
	}

	second := ParsedSession{
		Turns: []model.TurnNode{{Index: 0}},
		Stats: model.SessionStats{TotalTurns: 1},
	}
	_, turns2 := acc.Merge(second)
	if len(turns2) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns2))
	}
	if turns2[0].Index <= 2 {
		t.Errorf("expected reindexed turn past prior max, got %d", turns2[0].Index)
	}
}
