// Package rollout reads a single agent rollout file and produces a typed
// stream of SessionEvents, tolerating truncation and envelope variation.
// One normalizer per agent family; both share this event vocabulary so the
// turn builder never needs to know which family produced a given event.
package rollout

import "time"

// EventKind is the tagged-variant discriminator for SessionEvent.
type EventKind string

const (
	EventUserMessage      EventKind = "user_message"
	EventAssistantMessage EventKind = "assistant_message"
	EventToolUse          EventKind = "tool_use"
	EventToolResult       EventKind = "tool_result"
	EventCompactionMarker EventKind = "compaction_marker"
	EventSystemMeta       EventKind = "system_meta"
	EventTokenUsage       EventKind = "token_usage"
	EventTurnBoundary     EventKind = "turn_boundary"
	EventPlanMarker       EventKind = "plan_marker"
	EventTaskMutation     EventKind = "task_mutation"
	EventUnknown          EventKind = "unknown"
)

// ContentBlock is one typed block within an assistant message's content
// array: text, tool_use, tool_result, thinking, or compaction.
type ContentBlock struct {
	Type         string `json:"type"` // "text" | "tool_use" | "tool_result" | "thinking" | "compaction"
	Text         string `json:"text,omitempty"`
	ToolName     string `json:"toolName,omitempty"`
	ToolUseID    string `json:"toolUseId,omitempty"`
	ToolInput    map[string]interface{} `json:"toolInput,omitempty"`
	IsError      bool   `json:"isError,omitempty"`
	ResultText   string `json:"resultText,omitempty"`
}

// TokenUsage mirrors model.TokenUsage but lives here to keep this package
// free of a dependency on model for the raw parse stage; the turn builder
// converts between the two.
type TokenUsage struct {
	InputTokens              int
	OutputTokens             int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

// SessionEvent is one parsed record from a rollout file (spec.md §3).
// Malformed lines never produce a SessionEvent; they are skipped by the
// normalizer before this struct is built.
type SessionEvent struct {
	Kind          EventKind
	LineIndex     int
	Timestamp     time.Time
	SessionID     string
	Role          string // "user" | "assistant" | "system"
	Text          string // cleaned message text for user/assistant messages
	ContentBlocks []ContentBlock
	Model         string
	Usage         *TokenUsage
	IsLastUsageOfTurn bool // Codex-only: true for the last token_count event of a turn
	PlanMarkdown  string
	PlanRejected  bool
	PlanEntered   bool
	PlanExited    bool
	ToolName      string
	ToolUseID     string
	ExitCode      *int
	TurnStarted   bool // Codex: turn_started marker
	TurnComplete  bool // Codex: turn_complete marker
	TaskID        string
	TaskStatus    string
	IsTaskCreate  bool
	IsTaskUpdate  bool
	RawText       string // full text of a tool result, for the error heuristic (which skips results over 2000 bytes)
}

// IsRealUserText reports whether this event is a user message carrying
// actual instruction text, as opposed to a tool-result wrapper or a bare
// system-reminder/task-notification envelope. Used by the Claude-family
// turn boundary rule (spec.md §4.3).
func (e SessionEvent) IsRealUserText() bool {
	if e.Kind != EventUserMessage {
		return false
	}
	trimmed := trimSpace(e.Text)
	if trimmed == "" {
		return false
	}
	if hasOnlySystemWrapper(trimmed) {
		return false
	}
	return true
}
