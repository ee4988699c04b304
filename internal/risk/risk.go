// Package risk computes the per-agent and per-workstream Risk Engine
// outputs: error rate, correction ratio, compaction proximity, spinning
// signals, and the token-based cost model (spec.md §4.8).
package risk

import (
	"sort"
	"strings"

	"github.com/agent-racer/observatory/internal/model"
)

// retrySpinTools are the tools whose repetition signals a retry-spin
// rather than ordinary iterative work; Edit/Write/meta tools are excluded
// because legitimately editing the same file repeatedly is normal.
var retrySpinTools = map[string]bool{
	"Bash": true, "Read": true, "Grep": true, "Glob": true, "WebFetch": true,
}

const (
	compactionCriticalTokens = 150_000
	compactionElevatedTokens = 100_000

	errorLoopElevated = 3
	errorLoopCritical = 5
	fileChurnElevated = 5
	fileChurnCritical = 8
	repeatedToolCount = 4
	stuckErrorTurns   = 5

	spinningWindow = 10
	repeatedWindow = 5
	hotspotMinimum = 3
	hotspotTopN    = 10
)

// Compute derives the full Risk verdict for one agent from its
// compaction-safe stats and current turn list.
func Compute(stats model.SessionStats, turnList []model.TurnNode, prices PriceTable) model.Risk {
	r := model.Risk{}

	r.ErrorRate = errorRate(stats)
	r.CorrectionRatio = correctionRatio(stats)
	r.CompactionProximity = compactionProximity(turnList)
	r.FileHotspots = fileHotspots(stats.ChangedFiles, turnList)
	r.SpinningSignals = spinningSignals(turnList)
	r.CostUSD, r.ModelBreakdown = cost(turnList, prices)

	r.Overall = overallRisk(stats, r)
	return r
}

func errorRate(stats model.SessionStats) float64 {
	if stats.TotalTurns == 0 {
		return 0
	}
	return float64(stats.ErrorTurns) / float64(stats.TotalTurns)
}

func correctionRatio(stats model.SessionStats) float64 {
	if stats.ErrorTurns == 0 {
		return 1
	}
	return float64(stats.CorrectionTurns) / float64(stats.ErrorTurns)
}

func compactionProximity(turnList []model.TurnNode) model.RiskLevel {
	window := lastN(turnList, 5)
	if len(window) == 0 {
		return model.RiskNominal
	}
	var sum int
	for _, t := range window {
		sum += t.TokenUsage.InputTokens
	}
	avg := float64(sum) / float64(len(window))
	switch {
	case avg >= compactionCriticalTokens:
		return model.RiskCritical
	case avg >= compactionElevatedTokens:
		return model.RiskElevated
	default:
		return model.RiskNominal
	}
}

func fileHotspots(changedFiles []string, turnList []model.TurnNode) []model.FileHotspot {
	counts := make(map[string]int)
	for _, t := range turnList {
		for _, f := range t.ArtifactFiles {
			counts[f]++
		}
	}

	var hotspots []model.FileHotspot
	for f, c := range counts {
		if c >= hotspotMinimum {
			hotspots = append(hotspots, model.FileHotspot{Path: f, Count: c})
		}
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Count != hotspots[j].Count {
			return hotspots[i].Count > hotspots[j].Count
		}
		return hotspots[i].Path < hotspots[j].Path
	})
	if len(hotspots) > hotspotTopN {
		hotspots = hotspots[:hotspotTopN]
	}
	return hotspots
}

func spinningSignals(turnList []model.TurnNode) []model.SpinningSignal {
	window := lastN(turnList, spinningWindow)
	var signals []model.SpinningSignal

	if s, ok := errorLoopSignal(window); ok {
		signals = append(signals, s)
	}
	if s, ok := fileChurnSignal(window); ok {
		signals = append(signals, s)
	}
	if s, ok := repeatedToolSignal(lastN(turnList, repeatedWindow)); ok {
		signals = append(signals, s)
	}
	if s, ok := stuckSignal(window); ok {
		signals = append(signals, s)
	}
	return signals
}

func errorLoopSignal(window []model.TurnNode) (model.SpinningSignal, bool) {
	maxRun, curRun := 0, 0
	for _, t := range window {
		if t.HasError {
			curRun++
			if curRun > maxRun {
				maxRun = curRun
			}
		} else {
			curRun = 0
		}
	}
	switch {
	case maxRun >= errorLoopCritical:
		return model.SpinningSignal{Kind: "error_loop", Level: model.RiskCritical}, true
	case maxRun >= errorLoopElevated:
		return model.SpinningSignal{Kind: "error_loop", Level: model.RiskElevated}, true
	default:
		return model.SpinningSignal{}, false
	}
}

func fileChurnSignal(window []model.TurnNode) (model.SpinningSignal, bool) {
	counts := make(map[string]int)
	for _, t := range window {
		for _, f := range t.ArtifactFiles {
			counts[f]++
		}
	}
	maxCount := 0
	maxFile := ""
	for f, c := range counts {
		if c > maxCount {
			maxCount = c
			maxFile = f
		}
	}
	switch {
	case maxCount >= fileChurnCritical:
		return model.SpinningSignal{Kind: "file_churn", Level: model.RiskCritical, Detail: maxFile}, true
	case maxCount >= fileChurnElevated:
		return model.SpinningSignal{Kind: "file_churn", Level: model.RiskElevated, Detail: maxFile}, true
	default:
		return model.SpinningSignal{}, false
	}
}

// repeatedToolTarget is the (tool, normalized target) pair repeatedToolSignal
// counts occurrences of, per spec.md §4.8(c): "the last 5 turns contain the
// same (tool_name, normalized_target) >=4 times".
type repeatedToolTarget struct {
	tool   string
	target string
}

func repeatedToolSignal(window []model.TurnNode) (model.SpinningSignal, bool) {
	counts := make(map[repeatedToolTarget]int)
	for _, t := range window {
		for _, c := range t.ToolCalls {
			if !retrySpinTools[c.Tool] {
				continue
			}
			counts[repeatedToolTarget{tool: c.Tool, target: c.Target}]++
		}
	}

	keys := make([]repeatedToolTarget, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tool != keys[j].tool {
			return keys[i].tool < keys[j].tool
		}
		return keys[i].target < keys[j].target
	})

	for _, k := range keys {
		if counts[k] >= repeatedToolCount {
			return model.SpinningSignal{Kind: "repeated_tool", Level: model.RiskElevated, Detail: k.tool + ": " + k.target}, true
		}
	}
	return model.SpinningSignal{}, false
}

func stuckSignal(window []model.TurnNode) (model.SpinningSignal, bool) {
	errCount, commits := 0, 0
	for _, t := range window {
		if t.HasError {
			errCount++
		}
		if t.HasCommit {
			commits++
		}
	}
	if errCount >= stuckErrorTurns && commits == 0 {
		return model.SpinningSignal{Kind: "stuck", Level: model.RiskCritical}, true
	}
	return model.SpinningSignal{}, false
}

func overallRisk(stats model.SessionStats, r model.Risk) model.RiskLevel {
	anyLevel := func(level model.RiskLevel) bool {
		for _, s := range r.SpinningSignals {
			if s.Level == level {
				return true
			}
		}
		return false
	}

	if anyLevel(model.RiskCritical) {
		return model.RiskCritical
	}
	if stats.TotalTurns >= 6 && r.ErrorRate > 0.35 && r.CorrectionRatio < 0.40 {
		return model.RiskCritical
	}
	if r.CompactionProximity == model.RiskCritical {
		return model.RiskCritical
	}

	if anyLevel(model.RiskElevated) {
		return model.RiskElevated
	}
	if r.ErrorRate > 0.20 {
		return model.RiskElevated
	}
	if r.CorrectionRatio < 0.40 && r.ErrorRate > 0.10 {
		return model.RiskElevated
	}
	if r.CompactionProximity == model.RiskElevated {
		return model.RiskElevated
	}

	return model.RiskNominal
}

func lastN(turnList []model.TurnNode, n int) []model.TurnNode {
	if len(turnList) <= n {
		return turnList
	}
	return turnList[len(turnList)-n:]
}

// AggregateWorkstream rolls up a workstream's risk from its active agents'
// risk verdicts: max of overall risk, mean of error rates, sum of tokens
// (spec.md §4.8).
func AggregateWorkstream(agents []model.Agent) (model.RiskLevel, float64, int) {
	if len(agents) == 0 {
		return model.RiskNominal, 0, 0
	}

	overall := model.RiskNominal
	var errSum float64
	var tokenSum int
	for _, a := range agents {
		if rank(a.Risk.Overall) > rank(overall) {
			overall = a.Risk.Overall
		}
		errSum += a.Risk.ErrorRate
		tokenSum += a.Stats.TokenUsage.Total()
	}
	return overall, errSum / float64(len(agents)), tokenSum
}

func rank(level model.RiskLevel) int {
	switch level {
	case model.RiskCritical:
		return 2
	case model.RiskElevated:
		return 1
	default:
		return 0
	}
}

// matchesPrefix reports whether model name begins with one of prices'
// configured prefixes, case-insensitively, preferring the longest match.
func matchesPrefix(modelName string, prices PriceTable) (ModelPrice, bool) {
	best := ""
	var bestPrice ModelPrice
	found := false
	lowerName := strings.ToLower(modelName)
	for prefix, price := range prices {
		lowerPrefix := strings.ToLower(prefix)
		if strings.HasPrefix(lowerName, lowerPrefix) && len(lowerPrefix) > len(best) {
			best = lowerPrefix
			bestPrice = price
			found = true
		}
	}
	return bestPrice, found
}
