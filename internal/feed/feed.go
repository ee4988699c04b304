// Package feed maintains the bounded, append-only, stable-id event log
// surfaced on the dashboard (spec.md §4.7).
package feed

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agent-racer/observatory/internal/model"
)

const maxEntries = 200

// Log is the feed's mutable state across ticks: the append-only id→event
// map plus the transient bookkeeping needed to diff collisions and
// stall/idle signals tick over tick.
type Log struct {
	events map[string]model.FeedEvent

	// collisionSeen tracks which file paths were flagged as a collision as
	// of the prior tick, so open/resolved transitions can be derived.
	collisionSeen map[string]time.Time
}

// New returns an empty feed.
func New() *Log {
	return &Log{
		events:        make(map[string]model.FeedEvent),
		collisionSeen: make(map[string]time.Time),
	}
}

// Insert adds an event under id if not already present. Turn-derived
// events are re-derived every tick but only take effect once, since the id
// is stable and deterministic (spec.md §4.7).
func (l *Log) Insert(id string, ev model.FeedEvent) {
	if _, exists := l.events[id]; exists {
		return
	}
	ev.ID = id
	l.events[id] = ev
	l.evictIfOverflowing()
}

func (l *Log) evictIfOverflowing() {
	if len(l.events) <= maxEntries {
		return
	}
	oldestID := ""
	var oldestTime time.Time
	for id, ev := range l.events {
		if oldestID == "" || ev.Timestamp.Before(oldestTime) {
			oldestID = id
			oldestTime = ev.Timestamp
		}
	}
	if oldestID != "" {
		delete(l.events, oldestID)
	}
}

// SyncStallIdle clears every active session's prior stall/idle entries and
// re-adds one only if that session is still silent past 5 minutes
// (spec.md §4.7: these are transient, not append-only like the rest).
func (l *Log) SyncStallIdle(activeSessionIDs []string, stalled map[string]bool, idle map[string]bool, now time.Time) {
	for _, sessionID := range activeSessionIDs {
		delete(l.events, "stall-"+sessionID)
		delete(l.events, "idle-"+sessionID)

		switch {
		case stalled[sessionID]:
			l.events["stall-"+sessionID] = model.FeedEvent{
				ID: "stall-" + sessionID, Kind: model.FeedStall, SessionID: sessionID,
				Message: "session appears stalled", Timestamp: now,
			}
		case idle[sessionID]:
			l.events["idle-"+sessionID] = model.FeedEvent{
				ID: "idle-" + sessionID, Kind: model.FeedIdle, SessionID: sessionID,
				Message: "session idle", Timestamp: now,
			}
		}
	}
}

// SyncCollisions diffs this tick's collisions against the prior tick's,
// emitting `collision` for newly-seen file paths and `collision_resolved`
// for paths that dropped out (spec.md §4.7).
func (l *Log) SyncCollisions(collisions []model.Collision, now time.Time) {
	current := make(map[string]model.Collision, len(collisions))
	for _, c := range collisions {
		current[c.Path] = c
	}

	for path, c := range current {
		if _, already := l.collisionSeen[path]; !already {
			l.collisionSeen[path] = now
			l.Insert(fmt.Sprintf("collision-%s", sanitizeID(path)), model.FeedEvent{
				Kind: model.FeedCollision, Message: "collision on " + path, Timestamp: now,
			})
		}
	}

	for path := range l.collisionSeen {
		if _, stillPresent := current[path]; stillPresent {
			continue
		}
		delete(l.collisionSeen, path)
		delete(l.events, fmt.Sprintf("collision-%s", sanitizeID(path)))
		l.Insert(fmt.Sprintf("collision-resolved-%s", sanitizeID(path)), model.FeedEvent{
			Kind: model.FeedCollisionResolved, Message: "collision resolved on " + path, Timestamp: now,
		})
	}
}

// SessionEnded injects a session-ended event for a session discovered but
// not active this tick.
func (l *Log) SessionEnded(sessionID string, now time.Time) {
	l.Insert("session-ended-"+sessionID, model.FeedEvent{
		Kind: model.FeedSessionEnded, SessionID: sessionID,
		Message: "session ended", Timestamp: now,
	})
}

// Annotate inserts an ad hoc event with no natural stable composite key
// (e.g. an uplink-originated annotation), backed by a fresh UUID rather
// than a spec-mandated deterministic id (spec.md §4.7 is silent on this
// case; turn/collision/plan ids always stay deterministic).
func (l *Log) Annotate(kind model.FeedEventKind, sessionID, message string, now time.Time) string {
	id := uuid.NewString()
	l.Insert(id, model.FeedEvent{Kind: kind, SessionID: sessionID, Message: message, Timestamp: now})
	return id
}

// Snapshot returns the feed's current entries, newest timestamp first.
func (l *Log) Snapshot() []model.FeedEvent {
	out := make([]model.FeedEvent, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func sanitizeID(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		b := path[i]
		if b == '/' || b == ' ' {
			out = append(out, '-')
			continue
		}
		out = append(out, b)
	}
	return string(out)
}

// StableTurnEventID builds the deterministic id for a turn-derived feed
// event, e.g. StableTurnEventID("commit", sessionID, turnIndex).
func StableTurnEventID(kind, sessionID string, turnIndex int) string {
	return fmt.Sprintf("%s-%s-%d", kind, sessionID, turnIndex)
}
