// Package labels assigns stable short names to sessions. spec.md §6
// requires the JSON document `labels.json` → `{sessionId: {name, lastSeen}}`
// as the persisted source of truth (atomic write); this package mirrors
// that document into SQLite, the same disposable-read-index pattern
// internal/planhistory uses, so lookups and restarts don't re-sort the
// whole document. The SQLite side is rebuilt from labels.json whenever it's
// missing or its row count disagrees with the document, grounded on
// ODSapper-CLIAIMONITOR's internal/memory/db.go go:embed-schema
// database/sql pattern. The teacher's own Dashboard assigns an
// in-memory-only "Lane int" that resets every restart; spec.md's
// "survive restarts" requirement rules that approach out.
package labels

import (
	"database/sql"
	_ "embed"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// reclaimAfter is how long a label can go unseen before its slot is
// freed for reassignment (spec.md §4.5 step 4: "2h").
const reclaimAfter = 2 * time.Hour

// pool is the fixed name pool labels are assigned from. Names are
// aviation-style call signs, chosen to be short and visually distinct
// in a dashboard list.
var pool = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel",
	"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
	"quebec", "romeo", "sierra", "tango", "uniform", "victor", "whiskey",
	"xray", "yankee", "zulu",
}

func poolIndex(name string) int {
	for i, n := range pool {
		if n == name {
			return i
		}
	}
	return 0
}

// Store is the persisted session-id -> label assignment table: labels.json
// is the document of record, db is a rebuildable SQLite mirror of it.
type Store struct {
	jsonPath string
	db       *sql.DB
	doc      document
}

// Open loads (or initializes) labels.json at jsonPath and opens the SQLite
// mirror at dbPath, rebuilding the mirror from the document if it's empty
// or its row count disagrees with the document's entry count.
func Open(jsonPath, dbPath string) (*Store, error) {
	doc, err := loadDocument(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("load labels document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("labels db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open labels db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply labels schema: %w", err)
	}

	s := &Store{jsonPath: jsonPath, db: db, doc: doc}
	if err := s.reconcileMirror(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) reconcileMirror() error {
	var mirrorCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM session_labels`).Scan(&mirrorCount); err != nil {
		return fmt.Errorf("count labels mirror rows: %w", err)
	}
	if mirrorCount == len(s.doc) {
		return nil
	}

	if _, err := s.db.Exec(`DELETE FROM session_labels`); err != nil {
		return fmt.Errorf("clear labels mirror: %w", err)
	}
	for sessionID, rec := range s.doc {
		slot := poolIndex(rec.Name)
		if _, err := s.db.Exec(`INSERT INTO session_labels (session_id, label, slot, assigned_at_ms, last_seen_ms)
			VALUES (?, ?, ?, ?, ?)`, sessionID, rec.Name, slot, rec.LastSeen.UnixMilli(), rec.LastSeen.UnixMilli()); err != nil {
			return fmt.Errorf("rebuild labels mirror: %w", err)
		}
	}
	return nil
}

// Label returns the persisted label for sessionID, assigning a new one
// by hashing the session id into the pool and linear-probing past
// collisions if that slot is already held by a different session. The
// assignment (and every touch of an existing one) is written to labels.json
// so it survives a restart, per spec.md §6.
func (s *Store) Label(sessionID string, now time.Time) (string, error) {
	if rec, ok := s.doc[sessionID]; ok {
		rec.LastSeen = now
		s.doc[sessionID] = rec
		if _, err := s.db.Exec(`UPDATE session_labels SET last_seen_ms = ? WHERE session_id = ?`,
			now.UnixMilli(), sessionID); err != nil {
			return "", fmt.Errorf("update label mirror: %w", err)
		}
		if err := s.save(); err != nil {
			return "", fmt.Errorf("save labels document: %w", err)
		}
		return rec.Name, nil
	}

	slot := s.findFreeSlot(sessionID)
	name := pool[slot%len(pool)]
	s.doc[sessionID] = Record{Name: name, LastSeen: now}

	if _, err := s.db.Exec(`INSERT INTO session_labels (session_id, label, slot, assigned_at_ms, last_seen_ms)
		VALUES (?, ?, ?, ?, ?)`, sessionID, name, slot, now.UnixMilli(), now.UnixMilli()); err != nil {
		return "", fmt.Errorf("insert label mirror: %w", err)
	}
	if err := s.save(); err != nil {
		return "", fmt.Errorf("save labels document: %w", err)
	}
	return name, nil
}

// findFreeSlot hashes sessionID into the pool's index space and linear
// probes forward past any slot already held by a different session id,
// wrapping once around the full pool.
func (s *Store) findFreeSlot(sessionID string) int {
	held := make(map[int]string, len(s.doc))
	for sid, rec := range s.doc {
		held[poolIndex(rec.Name)] = sid
	}

	h := fnv.New32a()
	h.Write([]byte(sessionID))
	start := int(h.Sum32()) % len(pool)

	for i := 0; i < len(pool); i++ {
		slot := (start + i) % len(pool)
		if holder, ok := held[slot]; !ok || holder == sessionID {
			return slot
		}
	}
	// Pool fully occupied by other still-live sessions: reuse the hashed
	// slot anyway, accepting a visible label collision until one reclaims.
	return start
}

// Reclaim frees every label whose session hasn't been seen within
// reclaimAfter of now, so a dead session's slot becomes available again,
// and persists the result to labels.json.
func (s *Store) Reclaim(now time.Time) error {
	cutoff := now.Add(-reclaimAfter)
	for sessionID, rec := range s.doc {
		if rec.LastSeen.Before(cutoff) {
			delete(s.doc, sessionID)
			if _, err := s.db.Exec(`DELETE FROM session_labels WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("reclaim label mirror: %w", err)
			}
		}
	}
	return s.save()
}
