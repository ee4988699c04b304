// Package accumulator memoizes rollout parses by (path, mtime) and carries
// session stats forward across a compaction, so externally reported
// counters never go backwards even though the rollout file itself was
// truncated and rewritten (spec.md §4.4).
package accumulator

import (
	"os"
	"sync"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/rollout"
	"github.com/agent-racer/observatory/internal/turns"
)

// ParsedSession is one rollout file's turns and stats as of the current
// parse only — before any compaction carry-forward is applied.
type ParsedSession struct {
	Turns []model.TurnNode
	Stats model.SessionStats
}

type cacheEntry struct {
	mtimeMs int64
	size    int64
	parsed  ParsedSession
}

// Cache memoizes parse output by (path, mtime), per spec.md §4.4 step 1.
// Safe for concurrent use; one Cache is shared across every discovered
// rollout.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns an empty parse cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Parse returns the current parse of path, reusing the cached result if the
// file's mtime is unchanged since the last call. family selects the
// Claude/Codex normalizer and turn-boundary rule.
func (c *Cache) Parse(path string, family model.AgentFamily) (ParsedSession, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ParsedSession{}, err
	}
	mtimeMs := info.ModTime().UnixMilli()
	size := info.Size()

	c.mu.Lock()
	if entry, ok := c.entries[path]; ok && entry.mtimeMs == mtimeMs && entry.size == size {
		parsed := entry.parsed
		c.mu.Unlock()
		return parsed, nil
	}
	c.mu.Unlock()

	parsed, err := parseFresh(path, family)
	if err != nil {
		return ParsedSession{}, err
	}

	c.mu.Lock()
	c.entries[path] = cacheEntry{mtimeMs: mtimeMs, size: size, parsed: parsed}
	c.mu.Unlock()

	return parsed, nil
}

// Forget drops a path's cache entry, e.g. once its session is no longer
// discovered.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func parseFresh(path string, family model.AgentFamily) (ParsedSession, error) {
	var events []rollout.SessionEvent
	var err error

	switch family {
	case model.FamilyCodex:
		events, _, err = rollout.ParseCodexFile(path, 0)
	default:
		events, _, err = rollout.ParseClaudeFile(path, 0)
	}
	if err != nil {
		return ParsedSession{}, err
	}

	turnNodes := turns.Build(events, family)
	stats := statsFromTurns(turnNodes)
	return ParsedSession{Turns: turnNodes, Stats: stats}, nil
}

// statsFromTurns derives the current-parse-only SessionStats from a turn
// list (no carry-forward applied — that is the Accumulator's job).
func statsFromTurns(turnList []model.TurnNode) model.SessionStats {
	stats := model.SessionStats{ToolCountsByName: map[string]int{}}
	changed := map[string]bool{}

	for _, t := range turnList {
		stats.TotalTurns++
		if t.HasCommit {
			stats.Commits++
		}
		if t.HasError {
			stats.ErrorTurns++
		}
		if len(t.Corrections) > 0 {
			stats.CorrectionTurns++
		}
		if t.IsCompaction {
			stats.Compactions++
		}
		for name, count := range t.ToolCounts {
			stats.ToolCalls += count
			stats.ToolCountsByName[name] += count
		}
		for _, f := range t.ArtifactFiles {
			changed[f] = true
		}
		stats.TokenUsage = stats.TokenUsage.Add(t.TokenUsage)
		stats.ErrorTrend = append(stats.ErrorTrend, t.HasError)
	}

	for f := range changed {
		stats.ChangedFiles = append(stats.ChangedFiles, f)
	}
	return stats
}
