package risk

import (
	"testing"

	"github.com/agent-racer/observatory/internal/model"
)

func TestErrorLoopSignal_ElevatedThenCritical(t *testing.T) {
	turnsElevated := []model.TurnNode{{HasError: true}, {HasError: true}, {HasError: true}, {HasError: false}}
	r := Compute(model.SessionStats{TotalTurns: 4}, turnsElevated, nil)
	if !hasSignal(r.SpinningSignals, "error_loop", model.RiskElevated) {
		t.Errorf("expected elevated error_loop signal, got %v", r.SpinningSignals)
	}

	turnsCritical := []model.TurnNode{{HasError: true}, {HasError: true}, {HasError: true}, {HasError: true}, {HasError: true}}
	r = Compute(model.SessionStats{TotalTurns: 5}, turnsCritical, nil)
	if !hasSignal(r.SpinningSignals, "error_loop", model.RiskCritical) {
		t.Errorf("expected critical error_loop signal, got %v", r.SpinningSignals)
	}
}

func TestOverallRisk_CriticalOnHighErrorRate(t *testing.T) {
	turnList := make([]model.TurnNode, 10)
	for i := range turnList {
		turnList[i] = model.TurnNode{HasError: i < 5}
	}
	stats := model.SessionStats{TotalTurns: 10, ErrorTurns: 5, CorrectionTurns: 1}
	r := Compute(stats, turnList, nil)
	if r.Overall != model.RiskCritical {
		t.Errorf("expected critical overall risk, got %s (errRate=%v corrRatio=%v)", r.Overall, r.ErrorRate, r.CorrectionRatio)
	}
}

func TestOverallRisk_NominalWhenClean(t *testing.T) {
	turnList := []model.TurnNode{{}, {}, {}}
	r := Compute(model.SessionStats{TotalTurns: 3}, turnList, nil)
	if r.Overall != model.RiskNominal {
		t.Errorf("expected nominal risk, got %s", r.Overall)
	}
}

func TestFileHotspots_MinimumThreeTopTen(t *testing.T) {
	turnList := []model.TurnNode{
		{ArtifactFiles: []string{"a.go"}},
		{ArtifactFiles: []string{"a.go"}},
		{ArtifactFiles: []string{"a.go"}},
		{ArtifactFiles: []string{"b.go"}},
	}
	r := Compute(model.SessionStats{}, turnList, nil)
	if len(r.FileHotspots) != 1 || r.FileHotspots[0].Path != "a.go" {
		t.Errorf("expected only a.go as hotspot, got %v", r.FileHotspots)
	}
}

func TestCost_PrefixMatchAndDefault(t *testing.T) {
	turnList := []model.TurnNode{
		{Model: "claude-sonnet-4-5", TokenUsage: model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}},
		{Model: "some-unknown-model", TokenUsage: model.TokenUsage{InputTokens: 1_000_000}},
	}
	total, breakdown := cost(turnList, DefaultPriceTable)
	want := 3.00 + 15.00 + DefaultPrice.InputPerMTok
	if total != want {
		t.Errorf("total cost = %v, want %v", total, want)
	}
	if len(breakdown) != 2 {
		t.Errorf("expected breakdown per model, got %v", breakdown)
	}
}

func TestCompactionProximity_AveragesLastFiveTurns(t *testing.T) {
	turnList := []model.TurnNode{
		{TokenUsage: model.TokenUsage{InputTokens: 200_000}},
		{TokenUsage: model.TokenUsage{InputTokens: 200_000}},
		{TokenUsage: model.TokenUsage{InputTokens: 200_000}},
		{TokenUsage: model.TokenUsage{InputTokens: 200_000}},
		{TokenUsage: model.TokenUsage{InputTokens: 200_000}},
	}
	r := Compute(model.SessionStats{TotalTurns: 5}, turnList, nil)
	if r.CompactionProximity != model.RiskCritical {
		t.Errorf("expected critical compaction proximity, got %s", r.CompactionProximity)
	}
}

func TestRepeatedToolSignal_SameTargetTripsSignal(t *testing.T) {
	turnList := make([]model.TurnNode, 5)
	for i := range turnList {
		turnList[i] = model.TurnNode{ToolCalls: []model.ToolCall{{Tool: "Bash", Target: "go test ./..."}}}
	}
	r := Compute(model.SessionStats{TotalTurns: 5}, turnList, nil)
	if !hasSignal(r.SpinningSignals, "repeated_tool", model.RiskElevated) {
		t.Errorf("expected repeated_tool signal for 4+ identical targets, got %v", r.SpinningSignals)
	}
}

func TestRepeatedToolSignal_DifferentTargetsDoNotTripSignal(t *testing.T) {
	commands := []string{"go build ./...", "go vet ./...", "go test ./internal/risk", "ls -la", "git status"}
	turnList := make([]model.TurnNode, len(commands))
	for i, cmd := range commands {
		turnList[i] = model.TurnNode{ToolCalls: []model.ToolCall{{Tool: "Bash", Target: cmd}}}
	}
	r := Compute(model.SessionStats{TotalTurns: len(commands)}, turnList, nil)
	if hasSignal(r.SpinningSignals, "repeated_tool", model.RiskElevated) {
		t.Errorf("expected no repeated_tool signal across distinct targets, got %v", r.SpinningSignals)
	}
}

func TestRepeatedToolSignal_IgnoresToolsOutsideRetrySpinSet(t *testing.T) {
	turnList := make([]model.TurnNode, 5)
	for i := range turnList {
		turnList[i] = model.TurnNode{ToolCalls: []model.ToolCall{{Tool: "Edit", Target: "main.go"}}}
	}
	r := Compute(model.SessionStats{TotalTurns: 5}, turnList, nil)
	if hasSignal(r.SpinningSignals, "repeated_tool", model.RiskElevated) {
		t.Errorf("expected Edit repetition to be excluded from repeated_tool, got %v", r.SpinningSignals)
	}
}

func TestFileChurnSignal_ElevatedThenCritical(t *testing.T) {
	turnsElevated := make([]model.TurnNode, 5)
	for i := range turnsElevated {
		turnsElevated[i] = model.TurnNode{ArtifactFiles: []string{"hot.go"}}
	}
	r := Compute(model.SessionStats{TotalTurns: 5}, turnsElevated, nil)
	if !hasSignal(r.SpinningSignals, "file_churn", model.RiskElevated) {
		t.Errorf("expected elevated file_churn signal, got %v", r.SpinningSignals)
	}

	turnsCritical := make([]model.TurnNode, 8)
	for i := range turnsCritical {
		turnsCritical[i] = model.TurnNode{ArtifactFiles: []string{"hot.go"}}
	}
	r = Compute(model.SessionStats{TotalTurns: 8}, turnsCritical, nil)
	if !hasSignal(r.SpinningSignals, "file_churn", model.RiskCritical) {
		t.Errorf("expected critical file_churn signal, got %v", r.SpinningSignals)
	}
}

func TestStuckSignal_ErrorsWithoutCommits(t *testing.T) {
	turnList := make([]model.TurnNode, 5)
	for i := range turnList {
		turnList[i] = model.TurnNode{HasError: true}
	}
	r := Compute(model.SessionStats{TotalTurns: 5, ErrorTurns: 5}, turnList, nil)
	if !hasSignal(r.SpinningSignals, "stuck", model.RiskCritical) {
		t.Errorf("expected critical stuck signal, got %v", r.SpinningSignals)
	}
}

func TestStuckSignal_NotTrippedWhenACommitLandsInWindow(t *testing.T) {
	turnList := make([]model.TurnNode, 5)
	for i := range turnList {
		turnList[i] = model.TurnNode{HasError: true}
	}
	turnList[4].HasCommit = true
	r := Compute(model.SessionStats{TotalTurns: 5, ErrorTurns: 5}, turnList, nil)
	if hasSignal(r.SpinningSignals, "stuck", model.RiskCritical) {
		t.Errorf("expected no stuck signal once a commit lands, got %v", r.SpinningSignals)
	}
}

func hasSignal(signals []model.SpinningSignal, kind string, level model.RiskLevel) bool {
	for _, s := range signals {
		if s.Kind == kind && s.Level == level {
			return true
		}
	}
	return false
}
