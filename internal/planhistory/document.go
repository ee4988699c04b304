package planhistory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

const documentVersion = 1

// SessionEntry caches one discovered session's plan cycles along with the
// file attributes used to detect staleness on the next refresh
// (spec.md §4.9).
type SessionEntry struct {
	Key         string                    `json:"key"`
	SessionID   string                    `json:"sessionId"`
	Path        string                    `json:"path"`
	ProjectPath string                    `json:"projectPath"`
	AgentFamily model.AgentFamily         `json:"agentFamily"`
	MtimeMs     int64                     `json:"mtimeMs"`
	SizeBytes   int64                     `json:"sizeBytes"`
	CreatedAt   time.Time                 `json:"createdAt"`
	ModifiedAt  time.Time                 `json:"modifiedAt"`
	Plans       []model.PlanHistoryEntry  `json:"plans"`
}

// Document is the versioned JSON document of record, `{version, updatedAt,
// sessions[]}` per spec.md §4.9.
type Document struct {
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Sessions  []SessionEntry `json:"sessions"`
}

func loadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{Version: documentVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Corrupt document: a parse failure here must never be fatal
		// (spec.md §5 cancellation/tolerance rule) — start fresh rather
		// than block the daemon on a damaged file.
		return &Document{Version: documentVersion}, nil
	}
	return &doc, nil
}

// save writes the document atomically: write to a temp file in the same
// directory, then rename over the target. Persistence failure is
// non-fatal; callers log and continue (spec.md §4.9).
func (s *Store) save() error {
	s.doc.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.jsonPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".plan-history-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.jsonPath)
}

func (e SessionEntry) matches(mtimeMs, sizeBytes int64, path string) bool {
	return e.MtimeMs == mtimeMs && e.SizeBytes == sizeBytes && e.Path == path
}
