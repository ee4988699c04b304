package labels

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Record is one session's persisted label assignment, the JSON shape
// spec.md §6 mandates for labels.json: `{sessionId: {name, lastSeen}}`.
type Record struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"lastSeen"`
}

// document is the on-disk labels.json body: sessionId -> Record.
type document map[string]Record

func loadDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return document{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// Corrupt document: spec.md §7's persistent-state taxonomy says
		// start empty on read failure rather than block the daemon.
		return document{}, nil
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

// save writes labels.json atomically: write to a temp file in the same
// directory, then rename over the target. Persistence failure is
// non-fatal; callers log and continue (spec.md §6 "non-critical").
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.jsonPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".labels-*.tmp")
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
