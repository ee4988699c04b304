// Package dashboard assembles one immutable Snapshot per tick from
// Discovery, the Parse Cache/Accumulator, the Collision Detector, the
// Feed Log, and the Risk Engine (spec.md §4.5), the same way the
// teacher's monitor.go composes its own poll cycle from one Source per
// agent family into a single broadcast payload.
package dashboard

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/agent-racer/observatory/internal/accumulator"
	"github.com/agent-racer/observatory/internal/collision"
	"github.com/agent-racer/observatory/internal/config"
	"github.com/agent-racer/observatory/internal/discovery"
	"github.com/agent-racer/observatory/internal/feed"
	"github.com/agent-racer/observatory/internal/labels"
	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/operators"
	"github.com/agent-racer/observatory/internal/risk"
	"github.com/agent-racer/observatory/internal/vcs"
)

const (
	busyWindow        = 30 * time.Second
	stallElevatedAfter = 5 * time.Minute
	stallCriticalAfter = 15 * time.Minute
	lastTurnsForWarning = 3
)

// Builder owns every stateful piece needed to produce successive
// Snapshots: the accumulator manager, label store, VCS adapter, feed log,
// and per-family health trackers.
type Builder struct {
	cfg *config.Config

	accMgr      *accumulator.Manager
	labelsStore *labels.Store
	vcsAdapter  *vcs.Adapter
	feedLog     *feed.Log

	rosterPath    string
	rosterMtime   time.Time
	roster        *operators.Roster

	health map[model.AgentFamily]*sourceHealth

	prevActive   map[string]bool
	seenSessions map[string]bool // sessions discovered at least once, for session-ended detection
}

// New wires a Builder against config and an already-open label store.
func New(cfg *config.Config, labelsStore *labels.Store) *Builder {
	return &Builder{
		cfg:          cfg,
		accMgr:       accumulator.NewManager(),
		labelsStore:  labelsStore,
		vcsAdapter:   vcs.NewAdapter(),
		feedLog:      feed.New(),
		rosterPath:   cfg.Operators.ConfigPath,
		health: map[model.AgentFamily]*sourceHealth{
			model.FamilyClaude: newSourceHealth(),
			model.FamilyCodex:  newSourceHealth(),
		},
		prevActive:   make(map[string]bool),
		seenSessions: make(map[string]bool),
	}
}

type discovered struct {
	file       discovery.RolloutFile
	operatorID string
}

// Build runs one full tick and returns the resulting Snapshot.
func (b *Builder) Build(ctx context.Context, now time.Time) (model.Snapshot, error) {
	b.reloadRosterIfChanged()

	rollouts, byPath := b.discoverAll()

	active, err := b.resolveActive(rollouts, now)
	if err != nil {
		active = make(map[string]bool)
	}
	dormant := discovery.ExpandDormant(toRolloutFiles(rollouts), active, now)
	available := make(map[string]bool, len(active)+len(dormant))
	for id := range active {
		available[id] = true
	}
	for id := range dormant {
		available[id] = true
	}

	prices := b.cfg.PriceTable()

	var agentsList []model.Agent
	var collisionViews []collision.SessionView
	perAgentStats := make(map[string]model.SessionStats)
	perAgentTurns := make(map[string][]model.TurnNode)

	for _, d := range rollouts {
		if !available[d.file.SessionID] {
			continue
		}
		stats, turnList, err := b.accMgr.Resolve(d.file.SessionID, d.file.Path, d.file.AgentFamily)
		if err != nil {
			b.health[d.file.AgentFamily].recordFailure(err)
			continue
		}
		b.health[d.file.AgentFamily].recordSuccess()
		b.seenSessions[d.file.SessionID] = true

		perAgentStats[d.file.SessionID] = stats
		perAgentTurns[d.file.SessionID] = turnList

		if active[d.file.SessionID] {
			collisionViews = append(collisionViews, collision.SessionView{
				SessionID:   d.file.SessionID,
				AgentID:     d.file.SessionID,
				OperatorID:  d.operatorID,
				ProjectPath: d.file.ProjectPath,
				Turns:       turnList,
			})
		}
	}

	collisions := collision.Detect(ctx, collisionViews, b.vcsAdapter, now)
	collidingFiles := make(map[string]bool)
	for _, c := range collisions {
		collidingFiles[c.Path] = true
	}

	var stalled, idleSet = make(map[string]bool), make(map[string]bool)

	for _, d := range rollouts {
		if !available[d.file.SessionID] {
			continue
		}
		stats := perAgentStats[d.file.SessionID]
		turnList := perAgentTurns[d.file.SessionID]

		r := risk.Compute(stats, turnList, prices)
		isActive := active[d.file.SessionID]
		stallLevel := b.injectStall(d.file.ModifiedAt, isActive, now)
		if stallLevel != model.RiskNominal && rank(stallLevel) > rank(r.Overall) {
			r.Overall = stallLevel
		}
		if stallLevel == model.RiskCritical {
			stalled[d.file.SessionID] = true
		} else if stallLevel == model.RiskElevated {
			idleSet[d.file.SessionID] = true
		}

		label, labelErr := b.labelsStore.Label(d.file.SessionID, now)
		if labelErr != nil {
			label = d.file.SessionID
		}

		status := b.statusFor(d, turnList, isActive, now, collidingFiles)

		agent := model.Agent{
			ID:           d.file.SessionID,
			SessionID:    d.file.SessionID,
			Label:        label,
			ProjectPath:  d.file.ProjectPath,
			AgentFamily:  d.file.AgentFamily,
			OperatorID:   d.operatorID,
			Status:       status,
			Active:       isActive,
			PlanList:     buildPlanList(turnList),
			Risk:         r,
			Stats:        stats,
			LastModified: d.file.ModifiedAt,
		}
		if len(turnList) > 0 {
			agent.CurrentTask = turnList[len(turnList)-1].Summary
		}
		agentsList = append(agentsList, agent)
	}

	workstreams := buildWorkstreams(agentsList)

	var activeIDs []string
	for id := range active {
		activeIDs = append(activeIDs, id)
	}
	b.feedLog.SyncStallIdle(activeIDs, stalled, idleSet, now)
	b.feedLog.SyncCollisions(collisions, now)
	b.syncTurnDerivedFeed(agentsList, perAgentTurns, now)
	b.syncEndedSessions(byPath, active, now)
	b.prevActive = active

	summary := buildSummary(agentsList, active, collisions, workstreams)

	var healthList []model.SourceHealth
	for _, fam := range []model.AgentFamily{model.FamilyClaude, model.FamilyCodex} {
		healthList = append(healthList, b.health[fam].snapshot(fam))
	}

	return model.Snapshot{
		GeneratedAt:  now,
		Operators:    b.roster.Order,
		Agents:       agentsList,
		Workstreams:  workstreams,
		Collisions:   collisions,
		Feed:         b.feedLog.Snapshot(),
		Summary:      summary,
		SourceHealth: healthList,
	}, nil
}

// AnnotateFeed inserts an ad hoc feed entry with no natural stable id
// (e.g. an uplink connection-status change), for surfaces outside the
// parse pipeline itself.
func (b *Builder) AnnotateFeed(kind model.FeedEventKind, sessionID, message string, now time.Time) string {
	return b.feedLog.Annotate(kind, sessionID, message, now)
}

func (b *Builder) reloadRosterIfChanged() {
	info, err := os.Stat(b.rosterPath)
	if err == nil && !info.ModTime().After(b.rosterMtime) && b.roster != nil {
		return
	}
	roster, err := operators.Load(b.rosterPath)
	if err != nil {
		if b.roster != nil {
			return
		}
		roster = &operators.Roster{ByName: map[string]model.Operator{}, Roots: map[string][]string{}}
	}
	b.roster = roster
	if err == nil {
		b.rosterMtime = info.ModTime()
	}
}

func (b *Builder) discoverAll() ([]discovered, map[string]discovery.RolloutFile) {
	var out []discovered
	byPath := make(map[string]discovery.RolloutFile)

	add := func(root, operatorID string) {
		if root == "" {
			return
		}
		if claude, err := discovery.FindClaudeRollouts(root); err == nil {
			for _, f := range claude {
				out = append(out, discovered{file: f, operatorID: operatorID})
				byPath[f.Path] = f
			}
		} else {
			b.health[model.FamilyClaude].recordFailure(err)
		}
		if codex, err := discovery.FindCodexRollouts(root); err == nil {
			for _, f := range codex {
				out = append(out, discovered{file: f, operatorID: operatorID})
				byPath[f.Path] = f
			}
		} else {
			b.health[model.FamilyCodex].recordFailure(err)
		}
	}

	add(b.cfg.Discovery.ClaudeRoot, "self")
	add(b.cfg.Discovery.CodexRoot, "self")
	for name, roots := range b.roster.Roots {
		op := b.roster.ByName[name]
		for _, root := range roots {
			add(root, op.ID)
		}
	}
	return out, byPath
}

func toRolloutFiles(ds []discovered) []discovery.RolloutFile {
	files := make([]discovery.RolloutFile, len(ds))
	for i, d := range ds {
		files[i] = d.file
	}
	return files
}

func (b *Builder) resolveActive(rollouts []discovered, now time.Time) (map[string]bool, error) {
	processes, err := discovery.DiscoverActiveProcesses()
	if err != nil {
		return nil, err
	}
	return discovery.ResolveActive(toRolloutFiles(rollouts), processes, now, b.prevActive), nil
}

// injectStall reports the stall risk level implied purely by how long a
// still-alive active session's rollout has gone untouched (spec.md §4.5
// step 8).
func (b *Builder) injectStall(modifiedAt time.Time, isActive bool, now time.Time) model.RiskLevel {
	if !isActive {
		return model.RiskNominal
	}
	age := now.Sub(modifiedAt)
	switch {
	case age >= stallCriticalAfter:
		return model.RiskCritical
	case age >= stallElevatedAfter:
		return model.RiskElevated
	default:
		return model.RiskNominal
	}
}

func (b *Builder) statusFor(d discovered, turnList []model.TurnNode, isActive bool, now time.Time, collidingFiles map[string]bool) model.Activity {
	for _, t := range turnList {
		for _, f := range t.ArtifactFiles {
			if collidingFiles[f] {
				return model.ActivityConflict
			}
		}
	}
	if hasRecentError(turnList, lastTurnsForWarning) {
		return model.ActivityWarning
	}
	if isActive && now.Sub(d.file.ModifiedAt) <= busyWindow {
		return model.ActivityBusy
	}
	return model.ActivityIdle
}

func hasRecentError(turnList []model.TurnNode, n int) bool {
	start := len(turnList) - n
	if start < 0 {
		start = 0
	}
	for _, t := range turnList[start:] {
		if t.HasError {
			return true
		}
	}
	return false
}

func buildWorkstreams(agentsList []model.Agent) []model.Workstream {
	byProject := make(map[string][]model.Agent)
	var order []string
	for _, a := range agentsList {
		if _, ok := byProject[a.ProjectPath]; !ok {
			order = append(order, a.ProjectPath)
		}
		byProject[a.ProjectPath] = append(byProject[a.ProjectPath], a)
	}

	var out []model.Workstream
	for _, projectPath := range order {
		agents := byProject[projectPath]
		overall, meanErrorRate, totalTokens := risk.AggregateWorkstream(agents)
		out = append(out, model.Workstream{
			ProjectPath:   projectPath,
			Agents:        agents,
			CompletionPct: completionPct(agents),
			Risk:          overall,
			MeanErrorRate: meanErrorRate,
			TotalTokens:   totalTokens,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectPath < out[j].ProjectPath })
	return out
}

// completionPct is task-completion ratio if any plan tasks exist,
// otherwise commit-to-turn ratio (spec.md §4.5 step 7).
func completionPct(agents []model.Agent) float64 {
	var tasksTotal, tasksDone int
	var commits, turns int
	for _, a := range agents {
		for _, p := range a.PlanList {
			tasksTotal += p.TaskCounts.Total
			tasksDone += p.TaskCounts.Completed
		}
		commits += a.Stats.Commits
		turns += a.Stats.TotalTurns
	}
	if tasksTotal > 0 {
		return float64(tasksDone) / float64(tasksTotal)
	}
	if turns == 0 {
		return 0
	}
	return float64(commits) / float64(turns)
}

func buildSummary(agentsList []model.Agent, active map[string]bool, collisions []model.Collision, workstreams []model.Workstream) model.Summary {
	summary := model.Summary{TotalAgents: len(agentsList), CollisionCount: len(collisions)}
	for _, c := range collisions {
		if c.Severity == model.SeverityCritical {
			summary.CriticalCollisions++
		}
	}
	for _, a := range agentsList {
		if active[a.SessionID] {
			summary.ActiveAgents++
			summary.AggregateCostUSD += a.Risk.CostUSD
		}
	}
	for _, w := range workstreams {
		if w.Risk != model.RiskNominal {
			summary.WorkstreamsAtRisk++
		}
	}
	return summary
}

func (b *Builder) syncTurnDerivedFeed(agentsList []model.Agent, perAgentTurns map[string][]model.TurnNode, now time.Time) {
	for _, a := range agentsList {
		for _, t := range perAgentTurns[a.SessionID] {
			if t.HasCommit {
				for _, subject := range t.CommitSubjects {
					id := feed.StableTurnEventID("commit", a.SessionID, t.Index)
					b.feedLog.Insert(id, model.FeedEvent{
						ID: id, Kind: model.FeedCompletion, SessionID: a.SessionID, AgentID: a.ID,
						Message: subject, Timestamp: t.Timestamp,
					})
				}
			}
			if t.HasError {
				id := feed.StableTurnEventID("error", a.SessionID, t.Index)
				b.feedLog.Insert(id, model.FeedEvent{
					ID: id, Kind: model.FeedError, SessionID: a.SessionID, AgentID: a.ID,
					Message: t.Summary, Timestamp: t.Timestamp,
				})
			}
			if t.IsCompaction {
				id := feed.StableTurnEventID("compaction", a.SessionID, t.Index)
				b.feedLog.Insert(id, model.FeedEvent{
					ID: id, Kind: model.FeedCompaction, SessionID: a.SessionID, AgentID: a.ID,
					Message: "context compacted", Timestamp: t.Timestamp,
				})
			}
			if t.Plan != nil && t.Plan.Entered {
				id := feed.StableTurnEventID("plan-started", a.SessionID, t.Index)
				b.feedLog.Insert(id, model.FeedEvent{
					ID: id, Kind: model.FeedPlanStarted, SessionID: a.SessionID, AgentID: a.ID,
					Message: "plan started", Timestamp: t.Timestamp,
				})
			}
			if t.Plan != nil && t.Plan.Exited && !t.Plan.Rejected {
				id := feed.StableTurnEventID("plan-approved", a.SessionID, t.Index)
				b.feedLog.Insert(id, model.FeedEvent{
					ID: id, Kind: model.FeedPlanApproved, SessionID: a.SessionID, AgentID: a.ID,
					Message: t.Plan.Title, Timestamp: t.Timestamp,
				})
			}
			for _, m := range t.TaskMutations {
				if m.Kind == "update" && m.Status == "completed" {
					id := feed.StableTurnEventID("task-completed-"+m.TaskID, a.SessionID, t.Index)
					b.feedLog.Insert(id, model.FeedEvent{
						ID: id, Kind: model.FeedTaskCompleted, SessionID: a.SessionID, AgentID: a.ID,
						Message: "task " + m.TaskID + " completed", Timestamp: t.Timestamp,
					})
				}
			}
		}
	}
}

func (b *Builder) syncEndedSessions(byPath map[string]discovery.RolloutFile, active map[string]bool, now time.Time) {
	for sessionID := range b.prevActive {
		if active[sessionID] {
			continue
		}
		b.feedLog.SessionEnded(sessionID, now)
	}
}

func rank(level model.RiskLevel) int {
	switch level {
	case model.RiskCritical:
		return 2
	case model.RiskElevated:
		return 1
	default:
		return 0
	}
}
