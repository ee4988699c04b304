package planhistory

import (
	"log"
	"sort"
	"time"

	"github.com/agent-racer/observatory/internal/accumulator"
	"github.com/agent-racer/observatory/internal/discovery"
	"github.com/agent-racer/observatory/internal/model"
)

const (
	rediscoverInterval = 15 * time.Second
	defaultParseBudget = 20
)

// Roots names the per-family directories the Refresher rediscovers from.
type Roots struct {
	ClaudeRoot string
	CodexRoot  string
}

// Refresher runs the plan history index's own discovery/parse/persist
// cycle, independent of the dashboard's ~1Hz tick (spec.md §4.9).
type Refresher struct {
	store       *Store
	cache       *accumulator.Cache
	roots       Roots
	parseBudget int

	lastDiscovery time.Time
	dirty         []discovery.RolloutFile
	knownPaths    map[string]discovery.RolloutFile
}

// NewRefresher wires a Refresher against an already-open Store.
func NewRefresher(store *Store, roots Roots) *Refresher {
	return &Refresher{
		store:       store,
		cache:       accumulator.NewCache(),
		roots:       roots,
		parseBudget: defaultParseBudget,
		knownPaths:  make(map[string]discovery.RolloutFile),
	}
}

// Refresh runs one cycle: rediscover (if due or forced), then parse up to
// the parse budget's worth of dirty sessions, preferring most-recently
// modified, and persist. Returns the number of dirty sessions still
// queued after this call.
func (r *Refresher) Refresh(forced bool) (remainingDirty int, err error) {
	now := time.Now()
	if forced || r.lastDiscovery.IsZero() || now.Sub(r.lastDiscovery) >= rediscoverInterval {
		if err := r.rediscover(); err != nil {
			return len(r.dirty), err
		}
		r.lastDiscovery = now
	}

	budget := r.parseBudget
	for budget > 0 && len(r.dirty) > 0 {
		rf := r.dirty[0]
		r.dirty = r.dirty[1:]
		budget--

		if err := r.parseAndMerge(rf); err != nil {
			log.Printf("planhistory: parse %s: %v", rf.Path, err)
			continue
		}
	}

	if err := r.store.save(); err != nil {
		// Persistence failure is non-fatal (spec.md §4.9); the in-memory
		// document and SQLite mirror stay authoritative for this process.
		log.Printf("planhistory: persist: %v", err)
	}

	return len(r.dirty), nil
}

func (r *Refresher) rediscover() error {
	var discovered []discovery.RolloutFile

	if r.roots.ClaudeRoot != "" {
		claude, err := discovery.FindClaudeRollouts(r.roots.ClaudeRoot)
		if err == nil {
			discovered = append(discovered, claude...)
		}
	}
	if r.roots.CodexRoot != "" {
		codex, err := discovery.FindCodexRollouts(r.roots.CodexRoot)
		if err == nil {
			discovered = append(discovered, codex...)
		}
	}

	seen := make(map[string]bool, len(discovered))
	var newlyDirty []discovery.RolloutFile
	for _, rf := range discovered {
		seen[rf.Path] = true
		r.knownPaths[rf.Path] = rf

		existing := r.findSessionEntry(rf.SessionID, rf.Path)
		if existing == nil || !existing.matches(rf.ModifiedAt.UnixMilli(), rf.SizeBytes, rf.Path) {
			newlyDirty = append(newlyDirty, rf)
		}
	}

	// Drop sessions no longer discovered.
	kept := r.store.doc.Sessions[:0]
	for _, sess := range r.store.doc.Sessions {
		if seen[sess.Path] {
			kept = append(kept, sess)
		}
	}
	r.store.doc.Sessions = kept

	for path := range r.knownPaths {
		if !seen[path] {
			delete(r.knownPaths, path)
		}
	}

	sort.Slice(newlyDirty, func(i, j int) bool {
		return newlyDirty[i].ModifiedAt.After(newlyDirty[j].ModifiedAt)
	})
	r.dirty = mergeDirty(r.dirty, newlyDirty)
	return nil
}

func mergeDirty(existing, fresh []discovery.RolloutFile) []discovery.RolloutFile {
	byPath := make(map[string]discovery.RolloutFile, len(existing)+len(fresh))
	for _, rf := range existing {
		byPath[rf.Path] = rf
	}
	for _, rf := range fresh {
		byPath[rf.Path] = rf
	}
	merged := make([]discovery.RolloutFile, 0, len(byPath))
	for _, rf := range byPath {
		merged = append(merged, rf)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ModifiedAt.After(merged[j].ModifiedAt)
	})
	return merged
}

func (r *Refresher) findSessionEntry(sessionID, path string) *SessionEntry {
	for i := range r.store.doc.Sessions {
		if r.store.doc.Sessions[i].SessionID == sessionID && r.store.doc.Sessions[i].Path == path {
			return &r.store.doc.Sessions[i]
		}
	}
	return nil
}

func (r *Refresher) parseAndMerge(rf discovery.RolloutFile) error {
	parsed, err := r.cache.Parse(rf.Path, rf.AgentFamily)
	if err != nil {
		return err
	}

	plans := extractPlans(rf.SessionID, rf.ProjectPath, rf.AgentFamily, parsed.Turns)

	entry := r.findSessionEntry(rf.SessionID, rf.Path)
	now := time.Now()
	if entry == nil {
		r.store.doc.Sessions = append(r.store.doc.Sessions, SessionEntry{
			Key:         sessionKey(rf.AgentFamily, rf.SessionID),
			SessionID:   rf.SessionID,
			Path:        rf.Path,
			ProjectPath: rf.ProjectPath,
			AgentFamily: rf.AgentFamily,
			CreatedAt:   now,
		})
		entry = &r.store.doc.Sessions[len(r.store.doc.Sessions)-1]
	}

	entry.MtimeMs = rf.ModifiedAt.UnixMilli()
	entry.SizeBytes = rf.SizeBytes
	entry.ModifiedAt = rf.ModifiedAt
	entry.Plans = mergePlans(entry.Plans, plans)

	for _, p := range plans {
		if err := r.store.upsertMirror(p); err != nil {
			return err
		}
	}
	return nil
}

// mergePlans upserts freshly extracted cycles by id, preserving any older
// cycle no longer visible in the current parse (e.g. one whose lines were
// dropped by a prior compaction).
func mergePlans(existing, fresh []model.PlanHistoryEntry) []model.PlanHistoryEntry {
	byID := make(map[string]model.PlanHistoryEntry, len(existing)+len(fresh))
	var order []string
	for _, p := range existing {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range fresh {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	merged := make([]model.PlanHistoryEntry, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}

func sessionKey(family model.AgentFamily, sessionID string) string {
	return string(family) + ":" + sessionID
}
