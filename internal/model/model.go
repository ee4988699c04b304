// Package model holds the data types shared across the observability
// pipeline: rollout-derived turns, the per-session view, the cross-session
// Snapshot, and the small set of persisted carry-forward records. No
// package here talks to disk, a process table, or a socket — those belong
// to the packages that produce or consume these values.
package model

import "time"

// Activity is a coarse per-agent status used for dashboard badges.
type Activity string

const (
	ActivityIdle     Activity = "idle"
	ActivityBusy     Activity = "busy"
	ActivityWarning  Activity = "warning"
	ActivityConflict Activity = "conflict"
)

// RiskLevel is the Risk Engine's overall verdict for an agent or workstream.
type RiskLevel string

const (
	RiskNominal  RiskLevel = "nominal"
	RiskElevated RiskLevel = "elevated"
	RiskCritical RiskLevel = "critical"
)

// AgentFamily identifies which CLI coding agent produced a rollout.
type AgentFamily string

const (
	FamilyClaude AgentFamily = "claude"
	FamilyCodex  AgentFamily = "codex"
)

// TurnCategory classifies the user instruction that opened a turn.
type TurnCategory string

const (
	CategoryTask          TurnCategory = "task"
	CategoryQuestion      TurnCategory = "question"
	CategoryFeedback      TurnCategory = "feedback"
	CategoryCommand       TurnCategory = "command"
	CategoryContinuation  TurnCategory = "continuation"
	CategoryInterruption  TurnCategory = "interruption"
	CategoryContext       TurnCategory = "context"
	CategorySystem        TurnCategory = "system"
	CategoryConversation  TurnCategory = "conversation"
)

// TokenUsage is the four-bucket token accounting used for both context
// proximity checks and cost calculation.
type TokenUsage struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens"`
}

// Total returns the sum of all four buckets.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

// ContextTokens returns the tokens that count against the model's context
// window (everything except freshly generated output).
func (u TokenUsage) ContextTokens() int {
	return u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
}

// Add returns the element-wise sum of two TokenUsage values.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:              u.InputTokens + o.InputTokens,
		OutputTokens:             u.OutputTokens + o.OutputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens + o.CacheReadInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens + o.CacheCreationInputTokens,
	}
}

// Correction is an error→fix pair found within a turn.
type Correction struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
	Fix   string `json:"fix"` // "Fixed in <file>" or "unresolved"
}

// Action records a file or command effect performed during a turn.
type Action struct {
	Kind   string `json:"kind"` // "create" | "edit" | "command"
	Target string `json:"target"`
}

// ToolCall is one tool_use event's (tool name, normalized target) pair.
// The Risk Engine's repeated_tool spinning signal (spec.md §4.8(c)) keys on
// this exact pair, not just the tool name, to distinguish genuine retry-spin
// (same tool hammering the same target) from ordinary varied tool use.
type ToolCall struct {
	Tool   string `json:"tool"`
	Target string `json:"target"`
}

// PlanMarker records an EnterPlanMode/ExitPlanMode event within a turn.
type PlanMarker struct {
	Entered  bool   `json:"entered"`
	Exited   bool   `json:"exited"`
	Rejected bool   `json:"rejected"`
	Markdown string `json:"markdown,omitempty"`
	Title    string `json:"title,omitempty"`
}

// TaskMutation records a TaskCreate/TaskUpdate observed within a turn.
type TaskMutation struct {
	Kind   string `json:"kind"` // "create" | "update"
	TaskID string `json:"taskId,omitempty"`
	Status string `json:"status,omitempty"`
}

// TurnNode is one user instruction plus every subsequent assistant/tool
// event up to the next real user instruction (spec.md §3).
type TurnNode struct {
	Index             int          `json:"index"`
	Timestamp         time.Time    `json:"timestamp"`
	Category          TurnCategory `json:"category"`
	Summary           string       `json:"summary"`
	FullInstruction   string       `json:"fullInstruction"`
	ApproachThinking  string       `json:"approachThinking,omitempty"`
	Decisions         []string     `json:"decisions,omitempty"`
	ResearchFiles     []string     `json:"researchFiles,omitempty"`
	ResearchPatterns  []string     `json:"researchPatterns,omitempty"`
	Actions           []Action     `json:"actions,omitempty"`
	Corrections       []Correction `json:"corrections,omitempty"`
	ArtifactFiles     []string     `json:"artifactFiles,omitempty"`
	CommitSubjects    []string     `json:"commitSubjects,omitempty"`
	Escalations       []string     `json:"escalations,omitempty"`
	ToolCounts        map[string]int `json:"toolCounts,omitempty"`
	ToolCalls         []ToolCall   `json:"toolCalls,omitempty"`
	HasCommit         bool         `json:"hasCommit"`
	IsCompaction      bool         `json:"isCompaction"`
	Plan              *PlanMarker  `json:"plan,omitempty"`
	TaskMutations     []TaskMutation `json:"taskMutations,omitempty"`
	TokenUsage        TokenUsage   `json:"tokenUsage"`
	Model             string       `json:"model,omitempty"`
	DurationMs        *int64       `json:"durationMs,omitempty"`
	StartLine         int          `json:"startLine"`
	EndLine           int          `json:"endLine"`
	HasError          bool         `json:"hasError"`
	InProgress        bool         `json:"inProgress,omitempty"`
}

// Session is one rollout file's fully parsed view as of the current tick.
type Session struct {
	ID          string      `json:"id"`
	ProjectPath string      `json:"projectPath"`
	AgentFamily AgentFamily `json:"agentFamily"`
	RolloutPath string      `json:"rolloutPath"`
	CreatedAt   time.Time   `json:"createdAt"`
	ModifiedAt  time.Time   `json:"modifiedAt"`
	SizeBytes   int64       `json:"sizeBytes"`
	Turns       []TurnNode  `json:"turns"`
	Stats       SessionStats `json:"stats"`
}

// SessionStats is the externally reported, compaction-safe counter set
// (spec.md invariant 2: these are non-decreasing over successive parses).
type SessionStats struct {
	TotalTurns       int            `json:"totalTurns"`
	ToolCalls        int            `json:"toolCalls"`
	Commits          int            `json:"commits"`
	ErrorTurns       int            `json:"errorTurns"`
	CorrectionTurns  int            `json:"correctionTurns"`
	Compactions      int            `json:"compactions"`
	TokenUsage       TokenUsage     `json:"tokenUsage"`
	ToolCountsByName map[string]int `json:"toolCountsByName,omitempty"`
	ChangedFiles     []string       `json:"changedFiles,omitempty"`
	CostUSD          float64        `json:"costUsd"`
	ErrorTrend       []bool         `json:"errorTrend,omitempty"` // one bool per turn, true = error turn
}

// SpinningSignal is one entry in the Risk Engine's spinning detector.
type SpinningSignal struct {
	Kind     string    `json:"kind"` // error_loop | file_churn | repeated_tool | stuck
	Level    RiskLevel `json:"level"`
	Detail   string    `json:"detail,omitempty"`
}

// ModelCostBreakdown aggregates cost/tokens/turns seen for one model.
type ModelCostBreakdown struct {
	Model      string  `json:"model"`
	CostUSD    float64 `json:"costUsd"`
	Tokens     int     `json:"tokens"`
	TurnCount  int     `json:"turnCount"`
}

// Risk is the Risk Engine's verdict for one agent.
type Risk struct {
	Overall              RiskLevel            `json:"overall"`
	ErrorRate            float64              `json:"errorRate"`
	CorrectionRatio      float64              `json:"correctionRatio"`
	CompactionProximity  RiskLevel            `json:"compactionProximity"`
	FileHotspots         []FileHotspot        `json:"fileHotspots,omitempty"`
	SpinningSignals      []SpinningSignal     `json:"spinningSignals,omitempty"`
	CostUSD              float64              `json:"costUsd"`
	ModelBreakdown       []ModelCostBreakdown `json:"modelBreakdown,omitempty"`
}

// FileHotspot is a file edited repeatedly across a session's history.
type FileHotspot struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// PlanTaskCounts summarizes a plan cycle's task completion.
type PlanTaskCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	InProgress int `json:"inProgress"`
}

// PlanStatus is the lifecycle state of one plan cycle.
type PlanStatus string

const (
	PlanDrafting     PlanStatus = "drafting"
	PlanImplementing PlanStatus = "implementing"
	PlanCompleted    PlanStatus = "completed"
	PlanRejected     PlanStatus = "rejected"
)

// Plan is the dashboard-facing view of one plan cycle within a session.
type Plan struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	Status     PlanStatus     `json:"status"`
	Title      string         `json:"title"`
	Markdown   string         `json:"markdown,omitempty"`
	TaskCounts PlanTaskCounts `json:"taskCounts"`
	StartedAt  time.Time      `json:"startedAt"`
}

// Agent is the observable view of one session (spec.md §3).
type Agent struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Label       string     `json:"label"`
	ProjectPath string     `json:"projectPath"`
	AgentFamily AgentFamily `json:"agentFamily"`
	OperatorID  string     `json:"operatorId"`
	Status      Activity   `json:"status"`
	Active      bool       `json:"active"`
	CurrentTask string     `json:"currentTask,omitempty"`
	PlanList    []Plan     `json:"planList,omitempty"`
	Risk        Risk       `json:"risk"`
	Stats       SessionStats `json:"stats"`
	LastModified time.Time `json:"lastModified"`
}

// Workstream groups agents by project path (spec.md invariant: exactly
// one workstream per distinct project, empty workstreams omitted).
type Workstream struct {
	ProjectPath        string    `json:"projectPath"`
	Agents             []Agent   `json:"agents"`
	CompletionPct       float64   `json:"completionPct"`
	Risk               RiskLevel `json:"risk"`
	MeanErrorRate      float64   `json:"meanErrorRate"`
	TotalTokens        int       `json:"totalTokens"`
}

// CollisionSeverity distinguishes same-operator from cross-operator conflicts.
type CollisionSeverity string

const (
	SeverityWarning  CollisionSeverity = "warning"
	SeverityCritical CollisionSeverity = "critical"
)

// Collision is a file concurrently touched by ≥2 distinct sessions while
// still dirty in the working tree (spec.md §4.6).
type Collision struct {
	Path         string            `json:"path"`
	Agents       []string          `json:"agents"` // agent ids
	Severity     CollisionSeverity `json:"severity"`
	DetectedAt   time.Time         `json:"detectedAt"`
	ProjectPath  string            `json:"projectPath"`
}

// FeedEventKind enumerates the tagged variant cases for FeedEvent.
type FeedEventKind string

const (
	FeedStart             FeedEventKind = "start"
	FeedCompletion        FeedEventKind = "completion"
	FeedError             FeedEventKind = "error"
	FeedCompaction        FeedEventKind = "compaction"
	FeedPlanStarted       FeedEventKind = "plan_started"
	FeedPlanApproved      FeedEventKind = "plan_approved"
	FeedTaskCompleted     FeedEventKind = "task_completed"
	FeedSessionEnded      FeedEventKind = "session_ended"
	FeedCollision         FeedEventKind = "collision"
	FeedCollisionResolved FeedEventKind = "collision_resolved"
	FeedStall             FeedEventKind = "stall"
	FeedIdle              FeedEventKind = "idle"
)

// FeedEvent is one entry in the bounded, append-only feed (spec.md §4.7).
type FeedEvent struct {
	ID        string        `json:"id"`
	Kind      FeedEventKind `json:"kind"`
	SessionID string        `json:"sessionId,omitempty"`
	AgentID   string        `json:"agentId,omitempty"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// Operator is a logical owner of one or more agent rollout directories.
type Operator struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Online  bool   `json:"online"`
	IsSelf  bool   `json:"isSelf"`
}

// Summary is the dashboard's headline roll-up.
type Summary struct {
	ActiveAgents       int     `json:"activeAgents"`
	TotalAgents        int     `json:"totalAgents"`
	CollisionCount     int     `json:"collisionCount"`
	CriticalCollisions int     `json:"criticalCollisions"`
	AggregateCostUSD   float64 `json:"aggregateCostUsd"`
	WorkstreamsAtRisk  int     `json:"workstreamsAtRisk"`
}

// SourceHealthStatus reports whether a rollout family's discovery/parse
// pipeline is currently trustworthy.
type SourceHealthStatus string

const (
	SourceHealthy  SourceHealthStatus = "healthy"
	SourceDegraded SourceHealthStatus = "degraded"
	SourceFailed   SourceHealthStatus = "failed"
)

// SourceHealth is one family's derived pipeline-health signal.
type SourceHealth struct {
	Family    AgentFamily        `json:"family"`
	Status    SourceHealthStatus `json:"status"`
	LastError string             `json:"lastError,omitempty"`
}

// Snapshot is the immutable aggregate value produced once per tick and
// pushed to subscribers (spec.md §3, §4.5).
type Snapshot struct {
	GeneratedAt  time.Time      `json:"generatedAt"`
	MessageID    string         `json:"messageId"`
	Operators    []Operator     `json:"operators"`
	Agents       []Agent        `json:"agents"`
	Workstreams  []Workstream   `json:"workstreams"`
	Collisions   []Collision    `json:"collisions"`
	Feed         []FeedEvent    `json:"feed"`
	Summary      Summary        `json:"summary"`
	SourceHealth []SourceHealth `json:"sourceHealth,omitempty"`
}

// PlanHistoryEntry is one finalized plan cycle persisted across restarts
// (spec.md §4.9).
type PlanHistoryEntry struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	ProjectPath string         `json:"projectPath"`
	AgentFamily AgentFamily    `json:"agentFamily"`
	Status      PlanStatus     `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Title       string         `json:"title"`
	TaskCounts  PlanTaskCounts `json:"taskCounts"`
	DurationMs  int64          `json:"durationMs"`
	Markdown    string         `json:"markdown"`
	Tasks       []TaskMutation `json:"tasks,omitempty"`
}
