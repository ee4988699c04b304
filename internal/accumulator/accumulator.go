package accumulator

import "github.com/agent-racer/observatory/internal/model"

// SessionAccumulator is the per-session carry-forward described in spec.md
// §3/§4.4: it survives a compaction (the rollout file being truncated and
// rewritten in place) by remembering everything the pre-compaction parse
// had already reported, so externally visible counters never go backwards.
type SessionAccumulator struct {
	initialized     bool
	baseline        model.SessionStats
	turnIndexOffset int
	planCycles      []model.Plan
}

// NewSessionAccumulator returns an empty accumulator for a session not yet
// observed.
func NewSessionAccumulator() *SessionAccumulator {
	return &SessionAccumulator{}
}

// Merge folds a fresh parse into the accumulator and returns the
// externally-visible stats and turn list for this tick (spec.md §4.4 steps
// 2-3). Turn indices are renumbered to stay monotonic across a compaction
// boundary; the raw parse's own indices reset to 0 each time the file is
// rewritten, but callers need a stable index within the session's whole
// history.
func (a *SessionAccumulator) Merge(parsed ParsedSession) (model.SessionStats, []model.TurnNode) {
	compacted := a.initialized && parsed.Stats.TotalTurns < a.baseline.TotalTurns

	var visible model.SessionStats
	if compacted {
		visible = mergeCompacted(a.baseline, parsed.Stats)
	} else {
		visible = parsed.Stats
	}

	a.baseline = monotonicMax(a.baseline, visible)
	a.initialized = true

	if compacted {
		a.turnIndexOffset += a.baseline.TotalTurns - len(parsed.Turns)
	}
	reindexed := reindexTurns(parsed.Turns, a.turnIndexOffset)

	return visible, reindexed
}

// MergePlans applies the "keep the most advanced plan cycles" rule: the
// current parse's plan cycles are preferred, but if the current parse
// yields none (e.g. right after a compaction that dropped the plan-marker
// lines), the accumulator's last known plan cycles are retained instead.
func (a *SessionAccumulator) MergePlans(current []model.Plan) []model.Plan {
	if len(current) > 0 {
		a.planCycles = current
		return current
	}
	return a.planCycles
}

func reindexTurns(turnList []model.TurnNode, offset int) []model.TurnNode {
	if offset == 0 {
		return turnList
	}
	out := make([]model.TurnNode, len(turnList))
	for i, t := range turnList {
		t.Index = t.Index + offset
		out[i] = t
	}
	return out
}

// mergeCompacted implements spec.md §4.4's compaction merge: turn-like
// counters sum baseline and current (the file now holds only the delta
// since compaction), tool counts merge by max per tool (a compaction
// summary can restate cumulative per-tool totals, so summing would double
// count), token usage sums across the boundary, changed files union, and
// the error trend is the retained history extended with the new turns.
func mergeCompacted(baseline, current model.SessionStats) model.SessionStats {
	merged := model.SessionStats{
		TotalTurns:      baseline.TotalTurns + current.TotalTurns,
		ToolCalls:       baseline.ToolCalls + current.ToolCalls,
		Commits:         baseline.Commits + current.Commits,
		ErrorTurns:      baseline.ErrorTurns + current.ErrorTurns,
		CorrectionTurns: baseline.CorrectionTurns + current.CorrectionTurns,
		Compactions:     baseline.Compactions + current.Compactions,
		TokenUsage:      baseline.TokenUsage.Add(current.TokenUsage),
		CostUSD:         maxFloat(baseline.CostUSD, current.CostUSD),
	}

	merged.ToolCountsByName = mergeToolCountsByMax(baseline.ToolCountsByName, current.ToolCountsByName)
	merged.ChangedFiles = unionStrings(baseline.ChangedFiles, current.ChangedFiles)
	merged.ErrorTrend = append(append([]bool{}, baseline.ErrorTrend...), current.ErrorTrend...)

	return merged
}

// monotonicMax folds the current visible stats into the running baseline,
// keeping the higher of the two for every monotonic counter (spec.md §4.4
// step 3). Used on every tick, compaction or not, so a transient parse
// glitch can never make a counter appear to shrink.
func monotonicMax(baseline, current model.SessionStats) model.SessionStats {
	out := model.SessionStats{
		TotalTurns:      maxInt(baseline.TotalTurns, current.TotalTurns),
		ToolCalls:       maxInt(baseline.ToolCalls, current.ToolCalls),
		Commits:         maxInt(baseline.Commits, current.Commits),
		ErrorTurns:      maxInt(baseline.ErrorTurns, current.ErrorTurns),
		CorrectionTurns: maxInt(baseline.CorrectionTurns, current.CorrectionTurns),
		Compactions:     maxInt(baseline.Compactions, current.Compactions),
		TokenUsage:      maxTokenUsage(baseline.TokenUsage, current.TokenUsage),
		CostUSD:         maxFloat(baseline.CostUSD, current.CostUSD),
	}
	out.ToolCountsByName = mergeToolCountsByMax(baseline.ToolCountsByName, current.ToolCountsByName)
	out.ChangedFiles = unionStrings(baseline.ChangedFiles, current.ChangedFiles)
	if len(current.ErrorTrend) >= len(baseline.ErrorTrend) {
		out.ErrorTrend = current.ErrorTrend
	} else {
		out.ErrorTrend = baseline.ErrorTrend
	}
	return out
}

func mergeToolCountsByMax(a, b map[string]int) map[string]int {
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func maxTokenUsage(a, b model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:              maxInt(a.InputTokens, b.InputTokens),
		OutputTokens:             maxInt(a.OutputTokens, b.OutputTokens),
		CacheReadInputTokens:     maxInt(a.CacheReadInputTokens, b.CacheReadInputTokens),
		CacheCreationInputTokens: maxInt(a.CacheCreationInputTokens, b.CacheCreationInputTokens),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
