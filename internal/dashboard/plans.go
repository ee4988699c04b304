package dashboard

import (
	"strconv"

	"github.com/agent-racer/observatory/internal/model"
)

// buildPlanList derives the current-tick view of every plan cycle visible
// in turnList, including one still being drafted with no ExitPlanMode
// yet. The persisted history of finalized cycles lives in
// internal/planhistory; this is the lighter live view an Agent carries
// in its Snapshot entry (spec.md §3 Agent.planList).
func buildPlanList(turnList []model.TurnNode) []model.Plan {
	var plans []model.Plan
	cycleStart := -1

	flush := func(start, end int) {
		p, ok := planFromCycle(turnList, start, end)
		if ok {
			plans = append(plans, p)
		}
	}

	for i, t := range turnList {
		if t.Plan != nil && t.Plan.Entered {
			if cycleStart != -1 {
				flush(cycleStart, i)
			}
			cycleStart = i
		}
	}
	if cycleStart != -1 {
		flush(cycleStart, len(turnList))
	}
	return plans
}

func planFromCycle(turnList []model.TurnNode, start, end int) (model.Plan, bool) {
	title, markdown := "", ""
	rejected := false
	exited := false

	for i := start; i < end; i++ {
		if m := turnList[i].Plan; m != nil && m.Exited {
			exited = true
			title = m.Title
			markdown = m.Markdown
			rejected = m.Rejected
		}
	}

	var counts model.PlanTaskCounts
	latest := make(map[string]model.TaskMutation)
	for i := start; i < end; i++ {
		for _, m := range turnList[i].TaskMutations {
			if m.TaskID != "" {
				latest[m.TaskID] = m
			}
		}
	}
	for _, m := range latest {
		counts.Total++
		switch m.Status {
		case "completed":
			counts.Completed++
		case "in_progress":
			counts.InProgress++
		}
	}

	status := model.PlanDrafting
	switch {
	case !exited:
		status = model.PlanDrafting
	case rejected:
		status = model.PlanRejected
	case counts.Total > 0 && counts.Completed == counts.Total:
		status = model.PlanCompleted
	case counts.InProgress > 0 || counts.Completed > 0:
		status = model.PlanImplementing
	}

	if title == "" {
		title = "Untitled plan"
	}

	return model.Plan{
		ID:         StableCycleID(start),
		Status:     status,
		Title:      title,
		Markdown:   markdown,
		TaskCounts: counts,
		StartedAt:  turnList[start].Timestamp,
	}, true
}

// StableCycleID derives a deterministic id for a plan cycle from its
// starting turn index; the session id is added by the caller that owns
// the Agent this plan belongs to.
func StableCycleID(startTurnIndex int) string {
	return "cycle-" + strconv.Itoa(startTurnIndex)
}
