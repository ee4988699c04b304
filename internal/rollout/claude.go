package rollout

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"
)

// claudeEnvelope is the outer shape of a Claude Code rollout line. Some
// records wrap the payload under "message", some tag by "type" alone, and
// message.content may be a plain string or an array of typed blocks —
// ParseClaudeFile tolerates all of these (spec.md §4.2).
type claudeEnvelope struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	SessionID string          `json:"sessionId"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	PlanContent string        `json:"planContent"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Usage   *claudeUsage    `json:"usage"`
	Content json.RawMessage `json:"content"`
}

type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Name      string          `json:"name"`
	ID        string          `json:"id"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ParseClaudeFile reads a Claude-family rollout from offset and returns the
// newly parsed events plus the byte offset to resume from next time. Blank
// and malformed lines are skipped silently; an incomplete trailing line
// (no terminating newline, e.g. a write still in flight) is left for the
// next call rather than consumed.
func ParseClaudeFile(path string, offset int64) ([]SessionEvent, int64, error) {
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

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return events, parsedOffset, err
		}
		if len(line) == 0 {
			break
		}
		if line[len(line)-1] != '\n' {
			// incomplete trailing line; wait for more data next tick
			break
		}

		data := bytes.TrimRight(line[:len(line)-1], "\r")
		parsedOffset += int64(len(line))
		lineIndex++

		if len(bytes.TrimSpace(data)) == 0 {
			if err == io.EOF {
				break
			}
			continue
		}

		ev, ok := parseClaudeLine(data, lineIndex)
		if ok {
			events = append(events, ev)
		}

		if err == io.EOF {
			break
		}
	}

	return events, parsedOffset, nil
}

func parseClaudeLine(data []byte, lineIndex int) (SessionEvent, bool) {
	var env claudeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return SessionEvent{}, false
	}

	ts, _ := time.Parse(time.RFC3339Nano, env.Timestamp)

	base := SessionEvent{
		LineIndex: lineIndex,
		Timestamp: ts,
		SessionID: env.SessionID,
	}

	if env.PlanContent != "" {
		base.Kind = EventPlanMarker
		base.PlanMarkdown = env.PlanContent
		base.PlanExited = true
		return base, true
	}

	switch env.Type {
	case "summary", "file-history-snapshot":
		return SessionEvent{}, false
	case "system":
		base.Kind = EventSystemMeta
		return base, true
	}

	if env.Message == nil {
		base.Kind = EventUnknown
		return base, true
	}

	var msg claudeMessage
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		base.Kind = EventUnknown
		return base, true
	}

	base.Role = msg.Role
	base.Model = msg.Model
	if msg.Usage != nil {
		base.Usage = &TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		}
	}

	blocks, text := decodeClaudeContent(msg.Content)
	base.ContentBlocks = blocks
	base.Text = text

	switch {
	case msg.Role == "user" || env.Type == "user":
		base.Kind = EventUserMessage
		if toolResult, isError, resultText := firstToolResult(blocks); toolResult {
			base.RawText = resultText
			if isError {
				base.Kind = EventToolResult
			}
		}
	case msg.Role == "assistant" || env.Type == "assistant":
		base.Kind = EventAssistantMessage
		if base.Usage != nil {
			base.Kind = EventTokenUsage
		}
		for _, b := range blocks {
			if b.Type == "tool_use" {
				base.Kind = EventToolUse
				base.ToolName = b.ToolName
				base.ToolUseID = b.ToolUseID
				if b.ToolName == "TaskCreate" {
					base.IsTaskCreate = true
				}
				if b.ToolName == "TaskUpdate" {
					base.IsTaskUpdate = true
				}
				if b.ToolName == "EnterPlanMode" {
					base.Kind = EventPlanMarker
					base.PlanEntered = true
				}
				if b.ToolName == "ExitPlanMode" {
					base.Kind = EventPlanMarker
					base.PlanExited = true
					if md, ok := b.ToolInput["plan"].(string); ok {
						base.PlanMarkdown = md
					}
				}
				break
			}
			if b.Type == "compaction" {
				base.Kind = EventCompactionMarker
				break
			}
		}
	default:
		base.Kind = EventUnknown
	}

	return base, true
}

// decodeClaudeContent normalizes message.content, which may be a bare
// string or an array of typed blocks, into a uniform block list plus the
// concatenated text (used for turn-boundary and summary extraction).
func decodeClaudeContent(raw json.RawMessage) ([]ContentBlock, string) {
	if len(raw) == 0 {
		return nil, ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return nil, asString
	}

	var rawBlocks []claudeContentBlock
	if err := json.Unmarshal(raw, &rawBlocks); err != nil {
		return nil, ""
	}

	blocks := make([]ContentBlock, 0, len(rawBlocks))
	var textParts []string
	for _, rb := range rawBlocks {
		cb := ContentBlock{Type: rb.Type, Text: rb.Text, ToolName: rb.Name, ToolUseID: rb.ID, IsError: rb.IsError}
		if rb.Type == "thinking" {
			cb.Text = rb.Thinking
		}
		if rb.Type == "tool_use" && len(rb.Input) > 0 {
			var input map[string]interface{}
			if json.Unmarshal(rb.Input, &input) == nil {
				cb.ToolInput = input
			}
		}
		if rb.Type == "tool_result" {
			cb.ToolUseID = rb.ToolUseID
			cb.ResultText = extractResultText(rb.Content)
		}
		if cb.Text != "" {
			textParts = append(textParts, cb.Text)
		}
		blocks = append(blocks, cb)
	}
	return blocks, strings.Join(textParts, "\n")
}

// extractResultText normalizes a tool_result's content field, which may be
// a plain string or an array of {type:"text", text:"..."} blocks.
func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func firstToolResult(blocks []ContentBlock) (found bool, isError bool, text string) {
	for _, b := range blocks {
		if b.Type == "tool_result" {
			return true, b.IsError, b.ResultText
		}
	}
	return false, false, ""
}

// EncodeProjectPath reproduces Claude Code's path→directory-name encoding:
// slashes become dashes, including a leading slash (spec.md §4.1).
func EncodeProjectPath(path string) string {
	return strings.ReplaceAll(path, "/", "-")
}

// DecodeProjectPath reverses EncodeProjectPath for the common case of an
// ASCII absolute path that itself contains no dashes (spec.md invariant 8).
// Paths whose components contain dashes are ambiguous to decode in general;
// callers that need a best-effort decode for such paths should keep the
// original path recorded alongside the encoded name rather than relying on
// this round trip.
func DecodeProjectPath(encoded string) string {
	return strings.ReplaceAll(encoded, "-", "/")
}
