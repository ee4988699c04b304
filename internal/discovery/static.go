// Package discovery finds rollout files on disk, both by walking the known
// per-family directory layouts and by cross-referencing currently running
// agent processes, per spec.md §4.1.
package discovery

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agent-racer/observatory/internal/model"
)

// RolloutFile is one discovered rollout on disk, not yet parsed.
type RolloutFile struct {
	Path        string
	SessionID   string
	ProjectPath string
	AgentFamily model.AgentFamily
	ModifiedAt  time.Time
	SizeBytes   int64
}

var sessionUUIDRe = regexp.MustCompile(`^[0-9a-fA-F-]{36}\.jsonl$`)

// FindClaudeRollouts walks root (normally `~/.claude/projects`) for
// `<encoded-path>/<session-uuid>.jsonl` files.
func FindClaudeRollouts(root string) ([]RolloutFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []RolloutFile
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		encoded := dirEntry.Name()
		projectDir := filepath.Join(root, encoded)

		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !sessionUUIDRe.MatchString(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			out = append(out, RolloutFile{
				Path:        filepath.Join(projectDir, f.Name()),
				SessionID:   strings.TrimSuffix(f.Name(), ".jsonl"),
				ProjectPath: DecodeProjectPath(encoded),
				AgentFamily: model.FamilyClaude,
				ModifiedAt:  info.ModTime(),
				SizeBytes:   info.Size(),
			})
		}
	}
	return out, nil
}

// EncodeProjectPath maps an absolute project path to Claude Code's
// directory-name encoding: every slash becomes a dash, including the
// leading one (spec.md §4.1).
func EncodeProjectPath(path string) string {
	return strings.ReplaceAll(path, "/", "-")
}

// DecodeProjectPath reverses EncodeProjectPath for the common case where no
// path component itself contains a dash.
func DecodeProjectPath(encoded string) string {
	return strings.ReplaceAll(encoded, "-", "/")
}

var rolloutFileRe = regexp.MustCompile(`^rollout-.*\.jsonl$`)

// FindCodexRollouts walks root (normally `$CODEX_HOME/sessions` or
// `~/.codex/sessions`) for the `YYYY/MM/DD/rollout-*.jsonl` tree.
func FindCodexRollouts(root string) ([]RolloutFile, error) {
	var out []RolloutFile

	years, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		months, err := os.ReadDir(filepath.Join(root, y.Name()))
		if err != nil {
			continue
		}
		for _, mo := range months {
			if !mo.IsDir() {
				continue
			}
			days, err := os.ReadDir(filepath.Join(root, y.Name(), mo.Name()))
			if err != nil {
				continue
			}
			for _, d := range days {
				if !d.IsDir() {
					continue
				}
				dayDir := filepath.Join(root, y.Name(), mo.Name(), d.Name())
				files, err := os.ReadDir(dayDir)
				if err != nil {
					continue
				}
				for _, f := range files {
					if f.IsDir() || !rolloutFileRe.MatchString(f.Name()) {
						continue
					}
					info, err := f.Info()
					if err != nil {
						continue
					}
					out = append(out, RolloutFile{
						Path:        filepath.Join(dayDir, f.Name()),
						SessionID:   sessionIDFromCodexName(f.Name()),
						AgentFamily: model.FamilyCodex,
						ModifiedAt:  info.ModTime(),
						SizeBytes:   info.Size(),
					})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedAt.Before(out[j].ModifiedAt) })
	return out, nil
}

func sessionIDFromCodexName(name string) string {
	name = strings.TrimSuffix(name, ".jsonl")
	name = strings.TrimPrefix(name, "rollout-")
	if idx := strings.LastIndex(name, "-"); idx >= 0 && len(name)-idx-1 >= 8 {
		// rollout-<timestamp>-<uuid>.jsonl: keep just the uuid suffix if
		// present, else the whole remainder.
		candidate := name[idx+1:]
		if sessionUUIDLikeRe.MatchString(candidate) {
			return candidate
		}
	}
	return name
}

var sessionUUIDLikeRe = regexp.MustCompile(`^[0-9a-fA-F-]{8,}$`)

// CodexHomeDir resolves the Codex rollout root, honoring $CODEX_HOME.
func CodexHomeDir() string {
	if dir := os.Getenv("CODEX_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex")
}

// ClaudeProjectsDir resolves the Claude Code rollout root.
func ClaudeProjectsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude", "projects")
}
