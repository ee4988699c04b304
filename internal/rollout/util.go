package rollout

import "strings"

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}

// systemWrapperPrefixes are the envelope tags the Claude CLI injects around
// otherwise-empty turns (compaction reminders, background task
// notifications). A user message consisting of nothing but one of these
// wrapped in <tag>...</tag> is not a real instruction.
var systemWrapperTags = []string{
	"system-reminder",
	"task-notification",
	"local-command-stdout",
	"command-message",
}

// hasOnlySystemWrapper reports whether text is entirely one of the known
// system wrapper tags (nothing else besides the tag and its contents).
func hasOnlySystemWrapper(text string) bool {
	for _, tag := range systemWrapperTags {
		open := "<" + tag + ">"
		closeTag := "</" + tag + ">"
		if strings.HasPrefix(text, open) && strings.HasSuffix(text, closeTag) {
			return true
		}
	}
	return false
}
