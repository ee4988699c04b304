package discovery

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/agent-racer/observatory/internal/model"
)

// ActiveProcess is one running agent CLI process observed this tick.
type ActiveProcess struct {
	PID         int32
	WorkingDir  string
	Family      model.AgentFamily
	OpenRollout string // path an open file descriptor points at, if resolved
}

// DiscoverActiveProcesses enumerates running agent processes. On Linux it
// uses the teacher's raw /proc walk (cheaper, and able to inspect open file
// descriptors for discovery rule (a)); elsewhere it falls back to
// gopsutil/v3, the only library in the retrieved pack offering a
// cross-platform process table.
func DiscoverActiveProcesses() ([]ActiveProcess, error) {
	if runtime.GOOS == "linux" {
		if procs, err := discoverActiveProcessesLinux(); err == nil {
			return procs, nil
		}
	}
	return discoverActiveProcessesGopsutil()
}

func discoverActiveProcessesLinux() ([]ActiveProcess, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var out []ActiveProcess
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		family, ok := familyFromCmdline(string(cmdline))
		if !ok {
			continue
		}

		cwd, err := os.Readlink(filepath.Join("/proc", entry.Name(), "cwd"))
		if err != nil {
			continue
		}

		out = append(out, ActiveProcess{
			PID:         int32(pid),
			WorkingDir:  cwd,
			Family:      family,
			OpenRollout: findOpenRolloutFD(pid),
		})
	}
	return out, nil
}

// findOpenRolloutFD inspects /proc/<pid>/fd for an open descriptor pointing
// at a .jsonl file, satisfying discovery rule (a): an open fd wins over the
// cwd+mtime heuristic.
func findOpenRolloutFD(pid int) string {
	fdDir := filepath.Join("/proc", strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
		if err != nil {
			continue
		}
		if strings.HasSuffix(target, ".jsonl") {
			return target
		}
	}
	return ""
}

func discoverActiveProcessesGopsutil() ([]ActiveProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var out []ActiveProcess
	for _, p := range procs {
		cmdline, err := p.CmdlineSlice()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		family, ok := familyFromCmdline(strings.Join(cmdline, "\x00"))
		if !ok {
			continue
		}
		cwd, err := p.Cwd()
		if err != nil || cwd == "" {
			continue
		}
		out = append(out, ActiveProcess{PID: p.Pid, WorkingDir: cwd, Family: family})
	}
	return out, nil
}

func familyFromCmdline(cmdline string) (model.AgentFamily, bool) {
	parts := strings.Split(cmdline, "\x00")
	if len(parts) == 0 {
		return "", false
	}
	exe := filepath.Base(parts[0])

	switch exe {
	case "claude", "claude-code":
		return model.FamilyClaude, true
	case "codex":
		return model.FamilyCodex, true
	}

	if exe == "node" {
		for _, part := range parts[1:] {
			lower := strings.ToLower(part)
			if strings.Contains(part, "node_modules/.bin") {
				continue
			}
			if strings.Contains(lower, "claude") {
				return model.FamilyClaude, true
			}
			if strings.Contains(lower, "codex") {
				return model.FamilyCodex, true
			}
		}
	}
	return "", false
}

const graceBuffer = 30 * time.Second
const dormantExpansionWindow = 24 * time.Hour

// ResolveActive implements spec.md §4.1's matching rules plus the grace
// buffer, as a pure function over already-discovered inputs so it is
// testable without real process enumeration. The 24h dormant-session
// expansion is done separately by ExpandDormant.
//
// prevActiveSessionIDs holds session ids considered active as of the prior
// tick, used for the grace buffer. now is the current tick time.
func ResolveActive(rollouts []RolloutFile, processes []ActiveProcess, now time.Time, prevActiveSessionIDs map[string]bool) map[string]bool {
	active := make(map[string]bool)

	byPath := make(map[string]RolloutFile, len(rollouts))
	for _, r := range rollouts {
		byPath[r.Path] = r
	}

	// Rule (a): an open file descriptor identifies the exact active file.
	matchedCwds := make(map[string]bool)
	for _, p := range processes {
		if p.OpenRollout != "" {
			if r, ok := byPath[p.OpenRollout]; ok {
				active[r.SessionID] = true
				matchedCwds[p.WorkingDir] = true
			}
		}
	}

	// Rule (b): for each cwd with N processes lacking a resolved fd match,
	// pick the N most-recently-modified rollouts under that project.
	cwdCounts := make(map[string]int)
	for _, p := range processes {
		if p.OpenRollout == "" {
			cwdCounts[p.WorkingDir]++
		}
	}
	rolloutsByProject := make(map[string][]RolloutFile)
	for _, r := range rollouts {
		rolloutsByProject[r.ProjectPath] = append(rolloutsByProject[r.ProjectPath], r)
	}

	for cwd, n := range cwdCounts {
		candidates := rolloutsByProject[cwd]
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].ModifiedAt.After(candidates[j].ModifiedAt)
		})
		if n > len(candidates) {
			n = len(candidates)
		}
		for i := 0; i < n; i++ {
			active[candidates[i].SessionID] = true
		}
	}

	// Grace buffer: a session active last tick stays active through this
	// tick if its rollout was modified within 30s, preventing flicker.
	for sessionID := range prevActiveSessionIDs {
		if active[sessionID] {
			continue
		}
		r, ok := findBySessionID(rollouts, sessionID)
		if ok && now.Sub(r.ModifiedAt) <= graceBuffer {
			active[sessionID] = true
		}
	}

	return active
}

func findBySessionID(rollouts []RolloutFile, sessionID string) (RolloutFile, bool) {
	for _, r := range rollouts {
		if r.SessionID == sessionID {
			return r, true
		}
	}
	return RolloutFile{}, false
}

// ExpandDormant adds, to the active set's projects, any rollout modified
// within 24h even if it is not itself active, so recent-but-dormant
// sessions in an otherwise-active project remain visible (spec.md §4.1).
func ExpandDormant(rollouts []RolloutFile, active map[string]bool, now time.Time) map[string]bool {
	activeProjects := make(map[string]bool)
	for _, r := range rollouts {
		if active[r.SessionID] {
			activeProjects[r.ProjectPath] = true
		}
	}

	visible := make(map[string]bool, len(active))
	for k := range active {
		visible[k] = true
	}
	for _, r := range rollouts {
		if visible[r.SessionID] {
			continue
		}
		if activeProjects[r.ProjectPath] && now.Sub(r.ModifiedAt) <= dormantExpansionWindow {
			visible[r.SessionID] = true
		}
	}
	return visible
}
