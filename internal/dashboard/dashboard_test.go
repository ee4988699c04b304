package dashboard

import (
	"testing"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

func TestCompletionPct_PrefersTaskRatioOverCommitRatio(t *testing.T) {
	agents := []model.Agent{
		{
			PlanList: []model.Plan{{TaskCounts: model.PlanTaskCounts{Total: 4, Completed: 2}}},
			Stats:    model.SessionStats{Commits: 0, TotalTurns: 10},
		},
	}
	pct := completionPct(agents)
	if pct != 0.5 {
		t.Errorf("completionPct = %v, want 0.5", pct)
	}
}

func TestCompletionPct_FallsBackToCommitRatio(t *testing.T) {
	agents := []model.Agent{{Stats: model.SessionStats{Commits: 2, TotalTurns: 10}}}
	pct := completionPct(agents)
	if pct != 0.2 {
		t.Errorf("completionPct = %v, want 0.2", pct)
	}
}

func TestBuildWorkstreams_GroupsByProjectAndSortsByPath(t *testing.T) {
	agents := []model.Agent{
		{ProjectPath: "/b", Stats: model.SessionStats{TotalTurns: 1}},
		{ProjectPath: "/a", Stats: model.SessionStats{TotalTurns: 1}},
		{ProjectPath: "/a", Stats: model.SessionStats{TotalTurns: 1}},
	}
	workstreams := buildWorkstreams(agents)
	if len(workstreams) != 2 {
		t.Fatalf("expected 2 workstreams, got %d", len(workstreams))
	}
	if workstreams[0].ProjectPath != "/a" || len(workstreams[0].Agents) != 2 {
		t.Errorf("unexpected first workstream: %+v", workstreams[0])
	}
}

func TestInjectStall_ElevatedThenCritical(t *testing.T) {
	b := &Builder{}
	now := time.Now()

	if lvl := b.injectStall(now.Add(-6*time.Minute), true, now); lvl != model.RiskElevated {
		t.Errorf("expected elevated at 6m, got %s", lvl)
	}
	if lvl := b.injectStall(now.Add(-16*time.Minute), true, now); lvl != model.RiskCritical {
		t.Errorf("expected critical at 16m, got %s", lvl)
	}
	if lvl := b.injectStall(now.Add(-16*time.Minute), false, now); lvl != model.RiskNominal {
		t.Errorf("expected nominal when inactive, got %s", lvl)
	}
}

func TestBuildPlanList_DraftingCycleHasNoExit(t *testing.T) {
	turnList := []model.TurnNode{
		{Timestamp: time.Now(), Plan: &model.PlanMarker{Entered: true}},
	}
	plans := buildPlanList(turnList)
	if len(plans) != 1 || plans[0].Status != model.PlanDrafting {
		t.Fatalf("expected 1 drafting plan, got %+v", plans)
	}
}

func TestBuildPlanList_CompletedCycle(t *testing.T) {
	start := time.Now()
	turnList := []model.TurnNode{
		{Timestamp: start, Plan: &model.PlanMarker{Entered: true}},
		{Timestamp: start.Add(time.Minute), Plan: &model.PlanMarker{Exited: true, Title: "Ship it"}},
		{Timestamp: start.Add(2 * time.Minute), TaskMutations: []model.TaskMutation{{TaskID: "1", Status: "completed"}}},
	}
	plans := buildPlanList(turnList)
	if len(plans) != 1 || plans[0].Status != model.PlanCompleted {
		t.Fatalf("expected 1 completed plan, got %+v", plans)
	}
}
