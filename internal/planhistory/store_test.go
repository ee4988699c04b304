package planhistory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "plan-history.json"), filepath.Join(dir, "plan-history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_InitializesEmptyDocument(t *testing.T) {
	s := setupTestStore(t)
	if s.doc.Version != documentVersion {
		t.Errorf("version = %d, want %d", s.doc.Version, documentVersion)
	}
	if len(s.doc.Sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(s.doc.Sessions))
	}
}

func TestSaveAndReload_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "plan-history.json")
	dbPath := filepath.Join(dir, "plan-history.db")

	s, err := Open(jsonPath, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.doc.Sessions = append(s.doc.Sessions, SessionEntry{
		Key: "claude:sess-1", SessionID: "sess-1", Path: "/r/sess-1.jsonl",
		ProjectPath: "/proj", AgentFamily: model.FamilyClaude,
		Plans: []model.PlanHistoryEntry{
			{ID: "plan-sess-1-0", SessionID: "sess-1", ProjectPath: "/proj",
				AgentFamily: model.FamilyClaude, Status: model.PlanCompleted,
				Timestamp: time.Now(), Title: "Refactor auth"},
		},
	})
	if err := s.upsertMirror(s.doc.Sessions[0].Plans[0]); err != nil {
		t.Fatalf("upsertMirror: %v", err)
	}
	if err := s.save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	reopened, err := Open(jsonPath, dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if len(reopened.doc.Sessions) != 1 || len(reopened.doc.Sessions[0].Plans) != 1 {
		t.Fatalf("expected 1 session with 1 plan after reload, got %+v", reopened.doc.Sessions)
	}
	if reopened.doc.Sessions[0].Plans[0].Title != "Refactor auth" {
		t.Errorf("title not preserved across reload")
	}
}

func TestReconcileMirror_RebuildsWhenOutOfSync(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "plan-history.json")
	dbPath := filepath.Join(dir, "plan-history.db")

	doc := Document{Version: documentVersion, Sessions: []SessionEntry{
		{SessionID: "sess-1", Path: "/r/sess-1.jsonl", Plans: []model.PlanHistoryEntry{
			{ID: "plan-a", SessionID: "sess-1", Status: model.PlanCompleted, Timestamp: time.Now()},
		}},
	}}
	data, _ := json.MarshalIndent(doc, "", "  ")
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		t.Fatalf("write seed doc: %v", err)
	}

	s, err := Open(jsonPath, dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM plan_history`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected mirror reconciled to 1 row, got %d", count)
	}
}

func TestList_CursorPagesEveryItemExactlyOnce(t *testing.T) {
	s := setupTestStore(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		p := model.PlanHistoryEntry{
			ID: itoaPlan(i), SessionID: "sess-1", ProjectPath: "/proj",
			AgentFamily: model.FamilyClaude, Status: model.PlanCompleted,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.upsertMirror(p); err != nil {
			t.Fatalf("upsertMirror: %v", err)
		}
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := s.List(Query{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("item %s visited twice", item.ID)
			}
			seen[item.ID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Errorf("expected all 5 items visited, got %d", len(seen))
	}
}

func itoaPlan(i int) string {
	return "plan-" + string(rune('a'+i))
}
