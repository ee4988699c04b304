// Package turns groups a rollout's event stream into TurnNodes: one user
// instruction plus every subsequent assistant/tool event up to the next
// real user instruction. Build is a pure function: callers pass it the
// events of one parse of a session and get back the turns visible in that
// parse (spec.md §4.3 — the accumulator, not this package, handles
// continuity across a compaction).
package turns

import (
	"regexp"
	"strings"

	"github.com/agent-racer/observatory/internal/model"
)

var (
	questionRe     = regexp.MustCompile(`(?i)^(why|what|how|when|where|who|which|can you|could you|is it|are there|do you|does it)\b.*\?\s*$`)
	feedbackRe     = regexp.MustCompile(`(?i)^(no[,.]|wrong|that'?s not|actually|don'?t|stop|revert|undo|instead)\b`)
	commandRe      = regexp.MustCompile(`^/[a-zA-Z][\w-]*\b`)
	interruptionRe = regexp.MustCompile(`(?i)^(wait|hold on|stop|cancel|actually wait)\b`)
	contextRe      = regexp.MustCompile(`(?i)(continue from|resume|as discussed|per the|as before|picking up where)`)
	taskVerbRe     = regexp.MustCompile(`(?i)^(add|fix|implement|create|write|build|refactor|update|remove|delete|migrate|rename|optimize|investigate)\b`)
)

// Categorize classifies a cleaned user instruction into one of the
// TurnCategory buckets per spec.md §4.3's regex-table contract. Order
// matters: more specific patterns are checked before the generic
// task/conversation fallback.
func Categorize(instruction string, isSystemDriven bool) model.TurnCategory {
	if isSystemDriven {
		return model.CategorySystem
	}

	trimmed := strings.TrimSpace(instruction)
	if trimmed == "" {
		return model.CategorySystem
	}

	switch {
	case commandRe.MatchString(trimmed):
		return model.CategoryCommand
	case interruptionRe.MatchString(trimmed):
		return model.CategoryInterruption
	case questionRe.MatchString(trimmed):
		return model.CategoryQuestion
	case feedbackRe.MatchString(trimmed):
		return model.CategoryFeedback
	case contextRe.MatchString(trimmed):
		return model.CategoryContext
	case taskVerbRe.MatchString(trimmed):
		return model.CategoryTask
	default:
		return model.CategoryConversation
	}
}

// Summarize derives the ≤80-char summary: the first sentence, truncated at
// a word boundary with an ellipsis if it would otherwise exceed the limit.
func Summarize(instruction string) string {
	const maxLen = 80
	trimmed := strings.TrimSpace(instruction)
	if trimmed == "" {
		return ""
	}

	sentence := firstSentence(trimmed)
	if len(sentence) <= maxLen {
		return sentence
	}

	cut := sentence[:maxLen-len("...")]
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \t\n,.;:") + "..."
}

func firstSentence(s string) string {
	for i, r := range s {
		if r == '\n' {
			return strings.TrimSpace(s[:i])
		}
	}
	idx := strings.IndexAny(s, ".!?")
	if idx < 0 {
		return s
	}
	// Avoid splitting on a decimal point or abbreviation-style period
	// followed immediately by another non-space character.
	if idx+1 < len(s) && s[idx] == '.' && !isBreakAfter(s[idx+1]) {
		rest := s[idx+1:]
		if sub := firstSentence(rest); sub != rest {
			return s[:idx+1+len(sub)]
		}
		return s
	}
	return strings.TrimSpace(s[:idx+1])
}

func isBreakAfter(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}
