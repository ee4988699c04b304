package turns

import (
	"strings"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/rollout"
)

// Build groups a rollout's event stream into TurnNodes, per spec.md §4.3.
// The boundary rule differs by family: Claude-family turns start at a real
// user text message; Codex-family turns start at an explicit turn_started
// marker (or, for a rollout with no markers at all, at a real user text
// message, as for Claude).
func Build(events []rollout.SessionEvent, family model.AgentFamily) []model.TurnNode {
	switch family {
	case model.FamilyCodex:
		return buildCodexTurns(events)
	default:
		return buildClaudeTurns(events)
	}
}

func buildClaudeTurns(events []rollout.SessionEvent) []model.TurnNode {
	var turns []model.TurnNode
	var current []rollout.SessionEvent

	flush := func() {
		if len(current) == 0 {
			return
		}
		turns = append(turns, buildTurn(current, len(turns), false))
		current = nil
	}

	for _, ev := range events {
		if ev.IsRealUserText() && len(current) > 0 {
			flush()
		}
		current = append(current, ev)
	}
	flush()
	return turns
}

func buildCodexTurns(events []rollout.SessionEvent) []model.TurnNode {
	var turns []model.TurnNode
	var current []rollout.SessionEvent
	sawAnyMarker := false

	flush := func(inProgress bool) {
		if len(current) == 0 {
			return
		}
		turns = append(turns, buildTurn(current, len(turns), inProgress))
		current = nil
	}

	for _, ev := range events {
		if ev.TurnStarted {
			sawAnyMarker = true
			flush(false)
			current = append(current, ev)
			continue
		}
		if ev.TurnComplete {
			sawAnyMarker = true
			current = append(current, ev)
			flush(false)
			continue
		}
		current = append(current, ev)
	}

	if len(current) > 0 {
		// Unterminated tail turn at EOF: still a turn, but marked
		// in-progress. If the rollout carries no turn markers at all,
		// fall back to grouping on real user text like Claude does,
		// since some Codex sources omit markers entirely.
		if !sawAnyMarker {
			return buildClaudeTurns(events)
		}
		flush(true)
	}
	return turns
}

// buildTurn extracts every TurnNode field from one turn's worth of events.
func buildTurn(events []rollout.SessionEvent, index int, inProgress bool) model.TurnNode {
	node := model.TurnNode{
		Index:      index,
		ToolCounts: map[string]int{},
		InProgress: inProgress,
	}

	if len(events) > 0 {
		node.Timestamp = events[0].Timestamp
		node.StartLine = events[0].LineIndex
		node.EndLine = events[len(events)-1].LineIndex
	}

	var instructionParts []string
	var thinkingParts []string
	var decisionParts []string
	var openErrors []openError
	isSystemDriven := true
	lastToolUsed := ""

	for i, ev := range events {
		if ev.Model != "" {
			node.Model = ev.Model
		}

		switch ev.Kind {
		case rollout.EventUserMessage:
			if ev.IsRealUserText() {
				instructionParts = append(instructionParts, ev.Text)
				isSystemDriven = false
			}

		case rollout.EventAssistantMessage:
			for _, b := range ev.ContentBlocks {
				if b.Type == "thinking" && b.Text != "" {
					thinkingParts = append(thinkingParts, b.Text)
				}
			}
			if ev.Text != "" {
				decisionParts = append(decisionParts, extractDecisions(ev.Text)...)
			}

		case rollout.EventToolUse:
			node.ToolCounts[ev.ToolName]++
			lastToolUsed = ev.ToolName
			if target := toolCallTarget(ev); target != "" {
				node.ToolCalls = append(node.ToolCalls, model.ToolCall{Tool: ev.ToolName, Target: target})
			}
			applyToolUse(&node, ev, i, events, &openErrors)

		case rollout.EventToolResult:
			applyToolResult(&node, ev, i, lastToolUsed, &openErrors)

		case rollout.EventCompactionMarker:
			node.IsCompaction = true

		case rollout.EventPlanMarker:
			applyPlanMarker(&node, ev)

		case rollout.EventTokenUsage:
			applyTokenUsage(&node, ev)
		}

		if node.Plan != nil && node.Plan.Exited && rejectedRe.MatchString(ev.RawText) {
			node.Plan.Rejected = true
		}

		if isErrorResult(ev) {
			node.HasError = true
		}
	}

	for _, oe := range openErrors {
		node.Corrections = append(node.Corrections, model.Correction{
			Tool:  oe.tool,
			Error: oe.errText,
			Fix:   "unresolved",
		})
	}

	node.FullInstruction = strings.Join(instructionParts, "\n")
	node.ApproachThinking = strings.Join(dedupe(thinkingParts), "\n")
	node.Decisions = dedupe(decisionParts)
	node.Summary = Summarize(node.FullInstruction)
	node.Category = Categorize(node.FullInstruction, isSystemDriven)

	if len(events) >= 2 {
		durMs := events[len(events)-1].Timestamp.Sub(events[0].Timestamp).Milliseconds()
		if durMs >= 0 {
			node.DurationMs = &durMs
		}
	}

	return node
}

type openError struct {
	tool      string
	errText   string
	toolUseID string
	turnCallIdx int
}

// applyToolUse records research targets, actions, commit subjects, and
// escalations for one tool_use event, and attempts to resolve it as the fix
// half of a pending correction.
func applyToolUse(node *model.TurnNode, ev rollout.SessionEvent, idx int, events []rollout.SessionEvent, open *[]openError) {
	if ev.IsTaskCreate {
		node.TaskMutations = append(node.TaskMutations, resolveTaskCreate(events, idx))
	}
	if ev.IsTaskUpdate {
		input := toolInputOf(ev)
		mutation := model.TaskMutation{Kind: "update"}
		if input != nil {
			if id, ok := input["taskId"].(string); ok {
				mutation.TaskID = id
			}
			if status, ok := input["status"].(string); ok {
				mutation.Status = status
			}
		}
		node.TaskMutations = append(node.TaskMutations, mutation)
	}

	if researchTool(ev.ToolName) {
		file, pattern := researchTarget(ev)
		if file != "" {
			node.ResearchFiles = append(node.ResearchFiles, file)
		}
		if pattern != "" {
			node.ResearchPatterns = append(node.ResearchPatterns, pattern)
		}
	}

	if action, ok := actionFor(ev); ok {
		node.Actions = append(node.Actions, action)
		if action.Kind == "create" || action.Kind == "edit" {
			node.ArtifactFiles = append(node.ArtifactFiles, action.Target)
		}
		if action.Kind == "command" {
			if subjects := commitSubjectsIn(action.Target); len(subjects) > 0 {
				node.HasCommit = true
				node.CommitSubjects = append(node.CommitSubjects, subjects...)
			}
		}
	}

	if q, ok := escalationFor(ev); ok {
		node.Escalations = append(node.Escalations, q)
	}

	// A pending correction is resolved by the next retry (another call to
	// the same tool) or Edit, within 5 tool calls of the error.
	for i := len(*open) - 1; i >= 0; i-- {
		oe := (*open)[i]
		callsSince := 0
		for j := oe.turnCallIdx + 1; j <= idx; j++ {
			if events[j].Kind == rollout.EventToolUse {
				callsSince++
			}
		}
		if callsSince > correctionWindow {
			continue
		}
		if ev.ToolName == oe.tool || ev.ToolName == "Edit" {
			node.Corrections = append(node.Corrections, model.Correction{
				Tool:  oe.tool,
				Error: oe.errText,
				Fix:   "Fixed via " + ev.ToolName,
			})
			*open = append((*open)[:i], (*open)[i+1:]...)
			return
		}
	}
}

func applyToolResult(node *model.TurnNode, ev rollout.SessionEvent, idx int, lastTool string, open *[]openError) {
	if !isErrorResult(ev) {
		return
	}
	errText := ev.RawText
	if len(errText) > errorHeuristicBytes {
		errText = errText[:errorHeuristicBytes]
	}
	*open = append(*open, openError{tool: lastTool, errText: errText, toolUseID: ev.ToolUseID, turnCallIdx: idx})
}

func applyPlanMarker(node *model.TurnNode, ev rollout.SessionEvent) {
	if node.Plan == nil {
		node.Plan = &model.PlanMarker{}
	}
	if ev.PlanEntered {
		node.Plan.Entered = true
	}
	if ev.PlanExited {
		node.Plan.Exited = true
		node.Plan.Markdown = ev.PlanMarkdown
		node.Plan.Title = Summarize(ev.PlanMarkdown)
	}
	if rejectedRe.MatchString(ev.RawText) {
		node.Plan.Rejected = true
	}
}

func applyTokenUsage(node *model.TurnNode, ev rollout.SessionEvent) {
	if ev.Usage == nil {
		return
	}
	usage := model.TokenUsage{
		InputTokens:              ev.Usage.InputTokens,
		OutputTokens:             ev.Usage.OutputTokens,
		CacheReadInputTokens:     ev.Usage.CacheReadInputTokens,
		CacheCreationInputTokens: ev.Usage.CacheCreationInputTokens,
	}

	if ev.IsLastUsageOfTurn {
		// Codex: cumulative per-turn value, only the final sample counts.
		node.TokenUsage = usage
		return
	}

	// Claude family (no IsLastUsageOfTurn flag set): per-message usage is
	// summed across the turn.
	node.TokenUsage = node.TokenUsage.Add(usage)
}

func resolveTaskCreate(events []rollout.SessionEvent, fromIdx int) model.TaskMutation {
	mutation := model.TaskMutation{Kind: "create"}
	for j := fromIdx + 1; j < len(events) && j <= fromIdx+correctionWindow; j++ {
		if m := taskCreatedRe.FindStringSubmatch(events[j].RawText); m != nil {
			mutation.TaskID = m[1]
			break
		}
	}
	return mutation
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
