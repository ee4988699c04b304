// Package planhistory persists every plan cycle ever observed across
// sessions, as a versioned JSON document, and mirrors it into SQLite so
// cursor-paginated list queries can be served with indexed SQL instead of
// an in-memory sort over the whole document on every call (spec.md §4.9).
// The SQLite mirror is disposable: it is rebuilt from the JSON document
// whenever missing or detected out of sync; the JSON document alone is
// restored on daemon start.
package planhistory

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agent-racer/observatory/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Store is the combined JSON-document-of-record plus SQLite read mirror.
type Store struct {
	jsonPath string
	db       *sql.DB
	doc      *Document
}

// Open loads (or initializes) the JSON document at jsonPath and opens the
// SQLite mirror at dbPath, rebuilding the mirror from the document if it is
// empty or the document's entry count disagrees with the mirror's.
func Open(jsonPath, dbPath string) (*Store, error) {
	doc, err := loadDocument(jsonPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("plan history db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open plan history db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply plan history schema: %w", err)
	}

	s := &Store{jsonPath: jsonPath, db: db, doc: doc}
	if err := s.reconcileMirror(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the SQLite mirror's connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) reconcileMirror() error {
	var mirrorCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM plan_history`).Scan(&mirrorCount); err != nil {
		return fmt.Errorf("count plan history mirror rows: %w", err)
	}

	total := 0
	for _, sess := range s.doc.Sessions {
		total += len(sess.Plans)
	}
	if mirrorCount == total {
		return nil
	}

	if _, err := s.db.Exec(`DELETE FROM plan_history`); err != nil {
		return fmt.Errorf("clear plan history mirror: %w", err)
	}
	for _, sess := range s.doc.Sessions {
		for _, p := range sess.Plans {
			if err := s.upsertMirror(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) upsertMirror(p model.PlanHistoryEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO plan_history (plan_id, session_id, project_path, agent_family, status,
			timestamp_ms, title, task_total, task_completed, task_in_progress, duration_ms, markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			status=excluded.status, timestamp_ms=excluded.timestamp_ms, title=excluded.title,
			task_total=excluded.task_total, task_completed=excluded.task_completed,
			task_in_progress=excluded.task_in_progress, duration_ms=excluded.duration_ms,
			markdown=excluded.markdown`,
		p.ID, p.SessionID, p.ProjectPath, string(p.AgentFamily), string(p.Status),
		p.Timestamp.UnixMilli(), p.Title,
		p.TaskCounts.Total, p.TaskCounts.Completed, p.TaskCounts.InProgress,
		p.DurationMs, p.Markdown,
	)
	return err
}
