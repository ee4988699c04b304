package planhistory

import (
	"fmt"

	"github.com/agent-racer/observatory/internal/model"
)

// extractPlans walks a session's turns in order and produces one
// PlanHistoryEntry per plan cycle that reached ExitPlanMode (i.e. a
// proposal was actually written down). A cycle starts at EnterPlanMode
// and runs until the next EnterPlanMode or end of turns; task mutations
// seen after its ExitPlanMode feed its task counts and status.
func extractPlans(sessionID, projectPath string, family model.AgentFamily, turnList []model.TurnNode) []model.PlanHistoryEntry {
	var plans []model.PlanHistoryEntry

	cycleStart := -1
	for i, t := range turnList {
		if t.Plan != nil && t.Plan.Entered {
			if cycleStart != -1 {
				if p, ok := buildPlanEntry(sessionID, projectPath, family, turnList, cycleStart, i); ok {
					plans = append(plans, p)
				}
			}
			cycleStart = i
		}
	}
	if cycleStart != -1 {
		if p, ok := buildPlanEntry(sessionID, projectPath, family, turnList, cycleStart, len(turnList)); ok {
			plans = append(plans, p)
		}
	}
	return plans
}

func buildPlanEntry(sessionID, projectPath string, family model.AgentFamily, turnList []model.TurnNode, start, end int) (model.PlanHistoryEntry, bool) {
	var exitIdx = -1
	var markdown, title string
	var rejected bool

	for i := start; i < end; i++ {
		if m := turnList[i].Plan; m != nil && m.Exited {
			exitIdx = i
			markdown = m.Markdown
			title = m.Title
			rejected = m.Rejected
		}
	}
	if exitIdx == -1 {
		// Still drafting with no proposal written yet: not finalized.
		return model.PlanHistoryEntry{}, false
	}
	if title == "" {
		title = fmt.Sprintf("Plan %d", start)
	}

	counts, tasks := taskCountsSince(turnList, exitIdx, end)

	status := model.PlanDrafting
	switch {
	case rejected:
		status = model.PlanRejected
	case counts.Total > 0 && counts.Completed == counts.Total:
		status = model.PlanCompleted
	case counts.InProgress > 0 || counts.Completed > 0:
		status = model.PlanImplementing
	}

	startedAt := turnList[start].Timestamp
	endedAt := turnList[end-1].Timestamp
	durationMs := endedAt.Sub(startedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	return model.PlanHistoryEntry{
		ID:          fmt.Sprintf("plan-%s-%d", sessionID, start),
		SessionID:   sessionID,
		ProjectPath: projectPath,
		AgentFamily: family,
		Status:      status,
		Timestamp:   startedAt,
		Title:       title,
		TaskCounts:  counts,
		DurationMs:  durationMs,
		Markdown:    markdown,
		Tasks:       tasks,
	}, true
}

// taskCountsSince aggregates TaskMutations across [from, end) into final
// per-task status, then rolls that up into totals.
func taskCountsSince(turnList []model.TurnNode, from, end int) (model.PlanTaskCounts, []model.TaskMutation) {
	latest := make(map[string]model.TaskMutation)
	var order []string

	for i := from; i < end; i++ {
		for _, m := range turnList[i].TaskMutations {
			if m.TaskID == "" {
				continue
			}
			if _, seen := latest[m.TaskID]; !seen {
				order = append(order, m.TaskID)
			}
			latest[m.TaskID] = m
		}
	}

	var counts model.PlanTaskCounts
	tasks := make([]model.TaskMutation, 0, len(order))
	for _, id := range order {
		m := latest[id]
		tasks = append(tasks, m)
		counts.Total++
		switch m.Status {
		case "completed":
			counts.Completed++
		case "in_progress":
			counts.InProgress++
		}
	}
	return counts, tasks
}
