package rollout

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"time"
)

// codexEnvelope is the outer shape of a Codex rollout line. Newer sessions
// wrap every record as {"type": ..., "payload": ...}; older ones emit the
// payload's fields bare at the top level. parseCodexLine sniffs which shape
// a given line uses (spec.md §4.2).
type codexEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

type codexEventMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Text    string `json:"text"`
	Input   int    `json:"input_tokens"`
	Output  int    `json:"output_tokens"`
	CachedInput int `json:"cached_input_tokens"`
	TotalTokenUsage *codexTokenUsage `json:"total_token_usage"`
	Call    string `json:"call_id"`
	Name    string `json:"tool_name"`
	Command string `json:"command"`
	ExitCode *int  `json:"exit_code"`
}

type codexTokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
}

type codexSessionMeta struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	WorkingDir string `json:"cwd"`
}

type codexResponseItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name"`
	CallID  string          `json:"call_id"`
}

// ParseCodexFile reads a Codex-family rollout from offset, returning newly
// parsed events and the resume offset. Mirrors ParseClaudeFile's
// incomplete-trailing-line discipline.
func ParseCodexFile(path string, offset int64) ([]SessionEvent, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, err
		}
	}

	var events []SessionEvent
	reader := bufio.NewReaderSize(f, 64*1024)
	parsedOffset := offset
	lineIndex := 0
	firstLine := offset == 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return events, parsedOffset, err
		}
		if len(line) == 0 {
			break
		}
		if line[len(line)-1] != '\n' {
			break
		}

		data := bytes.TrimRight(line[:len(line)-1], "\r")
		parsedOffset += int64(len(line))
		lineIndex++

		if len(bytes.TrimSpace(data)) == 0 {
			if err == io.EOF {
				break
			}
			firstLine = false
			continue
		}

		ev, ok := parseCodexLine(data, lineIndex, firstLine)
		firstLine = false
		if ok {
			events = append(events, ev)
		}

		if err == io.EOF {
			break
		}
	}

	// Codex reports token usage cumulatively per turn; only the last
	// token_count event before a turn boundary reflects the turn's final
	// totals (spec.md §9 design note). Mark it so the turn builder can
	// discard earlier, superseded samples within the same turn.
	markLastUsagePerTurn(events)

	return events, parsedOffset, nil
}

func parseCodexLine(data []byte, lineIndex int, firstLine bool) (SessionEvent, bool) {
	var env codexEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return SessionEvent{}, false
	}

	ts, _ := time.Parse(time.RFC3339Nano, env.Timestamp)
	base := SessionEvent{LineIndex: lineIndex, Timestamp: ts}

	if env.Type == "" || env.Payload == nil {
		// Old bare-payload format: the whole line IS the payload.
		return parseCodexEnvelope(sniffBareType(data), data, base)
	}

	return parseCodexEnvelope(env.Type, env.Payload, base)
}

// sniffBareType recovers a synthetic envelope type from an old-format line
// that has no top-level "type" wrapper, by checking for type-distinguishing
// fields.
func sniffBareType(data []byte) string {
	var probe struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Role    string `json:"role"`
	}
	_ = json.Unmarshal(data, &probe)
	if probe.Type != "" {
		return probe.Type
	}
	if probe.ID != "" {
		return "session_meta"
	}
	if probe.Role != "" {
		return "response_item"
	}
	return "event_msg"
}

func parseCodexEnvelope(typ string, payload json.RawMessage, base SessionEvent) (SessionEvent, bool) {
	switch typ {
	case "session_meta":
		var meta codexSessionMeta
		if json.Unmarshal(payload, &meta) != nil {
			return base, false
		}
		base.Kind = EventSystemMeta
		base.SessionID = meta.ID
		return base, true

	case "event_msg":
		var ev codexEventMsg
		if json.Unmarshal(payload, &ev) != nil {
			return base, false
		}
		return parseCodexEventMsg(ev, base)

	case "response_item":
		var item codexResponseItem
		if json.Unmarshal(payload, &item) != nil {
			return base, false
		}
		return parseCodexResponseItem(item, base)

	case "env_context":
		base.Kind = EventSystemMeta
		return base, true

	default:
		base.Kind = EventUnknown
		return base, true
	}
}

func parseCodexEventMsg(ev codexEventMsg, base SessionEvent) (SessionEvent, bool) {
	switch ev.Type {
	case "user_message":
		base.Kind = EventUserMessage
		base.Role = "user"
		base.Text = ev.Message
		if base.Text == "" {
			base.Text = ev.Text
		}
		return base, true

	case "agent_message":
		base.Kind = EventAssistantMessage
		base.Role = "assistant"
		base.Text = ev.Message
		if base.Text == "" {
			base.Text = ev.Text
		}
		return base, true

	case "token_count":
		base.Kind = EventTokenUsage
		if ev.TotalTokenUsage != nil {
			base.Usage = &TokenUsage{
				InputTokens:       ev.TotalTokenUsage.InputTokens,
				OutputTokens:      ev.TotalTokenUsage.OutputTokens,
				CacheReadInputTokens: ev.TotalTokenUsage.CachedInputTokens,
			}
		} else {
			base.Usage = &TokenUsage{InputTokens: ev.Input, OutputTokens: ev.Output, CacheReadInputTokens: ev.CachedInput}
		}
		return base, true

	case "turn_started":
		base.Kind = EventTurnBoundary
		base.TurnStarted = true
		return base, true

	case "turn_complete", "task_complete":
		base.Kind = EventTurnBoundary
		base.TurnComplete = true
		return base, true

	case "tool_call", "function_call":
		base.Kind = EventToolUse
		base.ToolName = ev.Name
		base.ToolUseID = ev.Call
		base.Text = ev.Command
		return base, true

	case "tool_call_output", "function_call_output":
		base.Kind = EventToolResult
		base.ToolUseID = ev.Call
		base.RawText = ev.Message
		base.ExitCode = ev.ExitCode
		return base, true

	case "session_configured":
		base.Kind = EventSystemMeta
		return base, true

	case "error":
		base.Kind = EventToolResult
		base.RawText = ev.Message
		return base, true

	default:
		base.Kind = EventUnknown
		return base, true
	}
}

func parseCodexResponseItem(item codexResponseItem, base SessionEvent) (SessionEvent, bool) {
	blocks, text := decodeClaudeContent(item.Content)
	base.ContentBlocks = blocks
	base.Text = text
	base.Role = item.Role

	switch item.Type {
	case "message":
		if item.Role == "user" {
			base.Kind = EventUserMessage
		} else {
			base.Kind = EventAssistantMessage
		}
	case "function_call":
		base.Kind = EventToolUse
		base.ToolName = item.Name
		base.ToolUseID = item.CallID
	case "function_call_output":
		base.Kind = EventToolResult
		base.ToolUseID = item.CallID
		base.RawText = text
	default:
		base.Kind = EventUnknown
	}
	return base, true
}

// markLastUsagePerTurn flags, for each run of token_usage events between
// turn boundaries, only the final one as authoritative. Codex re-emits a
// cumulative token_count on nearly every step; earlier samples within the
// same turn are provisional and must not be double-counted by the turn
// builder.
func markLastUsagePerTurn(events []SessionEvent) {
	lastUsageIdx := -1
	flush := func() {
		if lastUsageIdx >= 0 {
			events[lastUsageIdx].IsLastUsageOfTurn = true
			lastUsageIdx = -1
		}
	}
	for i := range events {
		switch events[i].Kind {
		case EventTokenUsage:
			lastUsageIdx = i
		case EventTurnBoundary:
			flush()
		}
	}
	flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
