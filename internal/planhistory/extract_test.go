package planhistory

import (
	"testing"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

func TestExtractPlans_DraftingWithoutExitIsNotFinalized(t *testing.T) {
	turnList := []model.TurnNode{
		{Timestamp: time.Now(), Plan: &model.PlanMarker{Entered: true}},
	}
	plans := extractPlans("sess-1", "/proj", model.FamilyClaude, turnList)
	if len(plans) != 0 {
		t.Errorf("expected no finalized plans, got %v", plans)
	}
}

func TestExtractPlans_CompletedWhenAllTasksDone(t *testing.T) {
	start := time.Now()
	turnList := []model.TurnNode{
		{Timestamp: start, Plan: &model.PlanMarker{Entered: true}},
		{Timestamp: start.Add(time.Minute), Plan: &model.PlanMarker{Exited: true, Title: "Refactor auth", Markdown: "# Refactor auth"}},
		{Timestamp: start.Add(2 * time.Minute), TaskMutations: []model.TaskMutation{
			{Kind: "create", TaskID: "1", Status: "pending"},
		}},
		{Timestamp: start.Add(3 * time.Minute), TaskMutations: []model.TaskMutation{
			{Kind: "update", TaskID: "1", Status: "completed"},
		}},
	}
	plans := extractPlans("sess-1", "/proj", model.FamilyClaude, turnList)
	if len(plans) != 1 {
		t.Fatalf("expected 1 finalized plan, got %d", len(plans))
	}
	p := plans[0]
	if p.Status != model.PlanCompleted {
		t.Errorf("status = %s, want completed", p.Status)
	}
	if p.TaskCounts.Total != 1 || p.TaskCounts.Completed != 1 {
		t.Errorf("task counts = %+v", p.TaskCounts)
	}
	if p.Title != "Refactor auth" {
		t.Errorf("title = %q", p.Title)
	}
}

func TestExtractPlans_RejectedOverridesTaskProgress(t *testing.T) {
	start := time.Now()
	turnList := []model.TurnNode{
		{Timestamp: start, Plan: &model.PlanMarker{Entered: true}},
		{Timestamp: start.Add(time.Minute), Plan: &model.PlanMarker{Exited: true, Rejected: true, Title: "Add caching"}},
	}
	plans := extractPlans("sess-1", "/proj", model.FamilyClaude, turnList)
	if len(plans) != 1 || plans[0].Status != model.PlanRejected {
		t.Fatalf("expected rejected plan, got %+v", plans)
	}
}

func TestExtractPlans_MultipleCyclesInOneSession(t *testing.T) {
	start := time.Now()
	turnList := []model.TurnNode{
		{Timestamp: start, Plan: &model.PlanMarker{Entered: true}},
		{Timestamp: start.Add(time.Minute), Plan: &model.PlanMarker{Exited: true, Title: "First"}},
		{Timestamp: start.Add(2 * time.Minute), Plan: &model.PlanMarker{Entered: true}},
		{Timestamp: start.Add(3 * time.Minute), Plan: &model.PlanMarker{Exited: true, Title: "Second"}},
	}
	plans := extractPlans("sess-1", "/proj", model.FamilyClaude, turnList)
	if len(plans) != 2 {
		t.Fatalf("expected 2 plan cycles, got %d", len(plans))
	}
	if plans[0].Title != "First" || plans[1].Title != "Second" {
		t.Errorf("unexpected titles: %v", plans)
	}
}
