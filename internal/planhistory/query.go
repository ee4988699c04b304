package planhistory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

const maxListLimit = 200

// Query is the list() filter set (spec.md §4.9).
type Query struct {
	ProjectPath string
	SessionID   string
	Status      model.PlanStatus
	From        time.Time
	To          time.Time
	Limit       int
	Cursor      string
}

// Page is the list() result envelope.
type Page struct {
	Items      []model.PlanHistoryEntry
	NextCursor string
	HasMore    bool
}

type cursor struct {
	TimestampMs int64  `json:"t"`
	PlanID      string `json:"id"`
}

func encodeCursor(c cursor) string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}

// List runs a cursor-paginated query over the SQLite mirror, sorted by
// (timestamp desc, planId desc).
func (s *Store) List(q Query) (Page, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	var where []string
	var args []any

	if q.ProjectPath != "" {
		where = append(where, "project_path = ?")
		args = append(args, q.ProjectPath)
	}
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.From.IsZero() {
		where = append(where, "timestamp_ms >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "timestamp_ms <= ?")
		args = append(args, q.To.UnixMilli())
	}

	if q.Cursor != "" {
		c, err := decodeCursor(q.Cursor)
		if err != nil {
			return Page{}, fmt.Errorf("decode cursor: %w", err)
		}
		where = append(where, "(timestamp_ms < ? OR (timestamp_ms = ? AND plan_id < ?))")
		args = append(args, c.TimestampMs, c.TimestampMs, c.PlanID)
	}

	query := `SELECT plan_id, session_id, project_path, agent_family, status, timestamp_ms,
		title, task_total, task_completed, task_in_progress, duration_ms, markdown
		FROM plan_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_ms DESC, plan_id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query plan history: %w", err)
	}
	defer rows.Close()

	var items []model.PlanHistoryEntry
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[len(page.Items)-1]
		page.NextCursor = encodeCursor(cursor{TimestampMs: last.Timestamp.UnixMilli(), PlanID: last.ID})
	}
	return page, nil
}

// ListSession returns every plan cycle recorded for one session id, across
// the one or more rollout files that share it (newest mtime wins for the
// reported project path/family).
func (s *Store) ListSession(sessionID string) (sessionID_ string, projectPath string, family model.AgentFamily, plans []model.PlanHistoryEntry) {
	var newest *SessionEntry
	for i := range s.doc.Sessions {
		sess := &s.doc.Sessions[i]
		if sess.SessionID != sessionID {
			continue
		}
		plans = append(plans, sess.Plans...)
		if newest == nil || sess.ModifiedAt.After(newest.ModifiedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return sessionID, "", "", nil
	}
	return sessionID, newest.ProjectPath, newest.AgentFamily, plans
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(rows rowScanner) (model.PlanHistoryEntry, error) {
	var p model.PlanHistoryEntry
	var timestampMs int64
	var family, status string
	if err := rows.Scan(
		&p.ID, &p.SessionID, &p.ProjectPath, &family, &status, &timestampMs,
		&p.Title, &p.TaskCounts.Total, &p.TaskCounts.Completed, &p.TaskCounts.InProgress,
		&p.DurationMs, &p.Markdown,
	); err != nil {
		return p, fmt.Errorf("scan plan history row: %w", err)
	}
	p.AgentFamily = model.AgentFamily(family)
	p.Status = model.PlanStatus(status)
	p.Timestamp = time.UnixMilli(timestampMs)
	return p, nil
}
