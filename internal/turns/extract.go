package turns

import (
	"regexp"
	"strings"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/rollout"
)

var (
	decisionRe   = regexp.MustCompile(`(?i)\b(i'?ll|i will|let'?s|going to|decided to|i'?m going to|the plan is to|instead i'?ll)\b[^.\n]{0,120}`)
	errorHintsRe = regexp.MustCompile(`(?i)\b(error|exception|failed|failure|traceback|panic|undefined|cannot find|no such file|permission denied|syntax error)\b`)
	rejectedRe   = regexp.MustCompile(`(?i)tool use was rejected`)
	taskCreatedRe = regexp.MustCompile(`(?i)task #(\d+) created successfully`)
	commitSubjectRe = regexp.MustCompile(`(?s)git commit[^\n]*-m\s+(?:(?:"\$\(cat\s*)?<<-?['"]?(\w+)['"]?\s*\n(.*?)\n|"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`)
)

const (
	errorHeuristicBytes = 500
	errorMaxLen         = 2000
	correctionWindow    = 5
)

// isErrorResult classifies a tool result as an error, either from an
// explicit flag or, failing that, a heuristic scan over the first 500
// bytes. Results longer than 2000 bytes are never heuristically classified
// (spec.md §4.3).
func isErrorResult(ev rollout.SessionEvent) bool {
	for _, b := range ev.ContentBlocks {
		if b.Type == "tool_result" && b.IsError {
			return true
		}
	}
	if ev.RawText == "" {
		return false
	}
	if len(ev.RawText) > errorMaxLen {
		return false
	}
	scope := ev.RawText
	if len(scope) > errorHeuristicBytes {
		scope = scope[:errorHeuristicBytes]
	}
	return errorHintsRe.MatchString(scope)
}

func extractDecisions(text string) []string {
	matches := decisionRe.FindAllString(text, -1)
	var out []string
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m))
	}
	return out
}

// researchTool reports whether a tool name is one of the read-only
// investigation tools the turn builder attributes to "research".
func researchTool(name string) bool {
	switch name {
	case "Read", "Grep", "Glob":
		return true
	}
	return false
}

func researchTarget(ev rollout.SessionEvent) (file, pattern string) {
	input := toolInputOf(ev)
	if input == nil {
		return "", ""
	}
	switch ev.ToolName {
	case "Read":
		if v, ok := input["file_path"].(string); ok {
			file = v
		}
	case "Grep", "Glob":
		if v, ok := input["pattern"].(string); ok {
			pattern = v
		}
		if v, ok := input["path"].(string); ok {
			file = v
		}
	}
	return file, pattern
}

// toolCallTarget extracts a normalized call-level target for a tool_use
// event: the field the Risk Engine's repeated_tool spinning signal keys on,
// alongside the tool name, to tell "same tool, same target" (a retry spin)
// apart from "same tool, different targets" (ordinary varied use) —
// spec.md §4.8(c).
func toolCallTarget(ev rollout.SessionEvent) string {
	input := toolInputOf(ev)
	if input == nil {
		return ""
	}
	switch ev.ToolName {
	case "Bash":
		if cmd, ok := input["command"].(string); ok {
			return normalizeWhitespace(cmd)
		}
	case "Read":
		if p, ok := input["file_path"].(string); ok {
			return p
		}
	case "Grep", "Glob":
		var parts []string
		if p, ok := input["pattern"].(string); ok && p != "" {
			parts = append(parts, p)
		}
		if p, ok := input["path"].(string); ok && p != "" {
			parts = append(parts, p)
		}
		return strings.Join(parts, "\x00")
	case "WebFetch":
		if u, ok := input["url"].(string); ok {
			return u
		}
	}
	return ""
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func toolInputOf(ev rollout.SessionEvent) map[string]interface{} {
	for _, b := range ev.ContentBlocks {
		if b.Type == "tool_use" && b.ToolInput != nil {
			return b.ToolInput
		}
	}
	return nil
}

// actionFor converts a Write/Edit/Bash tool_use event into an Action. Other
// tools produce no action.
func actionFor(ev rollout.SessionEvent) (model.Action, bool) {
	input := toolInputOf(ev)
	switch ev.ToolName {
	case "Write":
		if input != nil {
			if p, ok := input["file_path"].(string); ok {
				return model.Action{Kind: "create", Target: p}, true
			}
		}
	case "Edit", "NotebookEdit", "MultiEdit":
		if input != nil {
			if p, ok := input["file_path"].(string); ok {
				return model.Action{Kind: "edit", Target: p}, true
			}
		}
	case "Bash":
		if input != nil {
			if cmd, ok := input["command"].(string); ok {
				return model.Action{Kind: "command", Target: cmd}, true
			}
		}
	}
	return model.Action{}, false
}

// commitSubjectsIn extracts commit subjects from a `git commit -m "..."`
// (or heredoc-form) Bash command string.
func commitSubjectsIn(command string) []string {
	matches := commitSubjectRe.FindAllStringSubmatch(command, -1)
	var subjects []string
	for _, m := range matches {
		for _, group := range []string{m[2], m[3], m[4]} {
			if group != "" {
				subjects = append(subjects, firstLine(group))
				break
			}
		}
	}
	return subjects
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

// escalationFor extracts the question posed by an AskUserQuestion tool_use.
func escalationFor(ev rollout.SessionEvent) (string, bool) {
	if ev.ToolName != "AskUserQuestion" {
		return "", false
	}
	input := toolInputOf(ev)
	if input == nil {
		return "", false
	}
	if q, ok := input["question"].(string); ok {
		return q, true
	}
	return "", false
}
