package fanout

import (
	"context"
	"log"
	"time"

	"github.com/agent-racer/observatory/internal/dashboard"
	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/relay"
)

// Service drives the ≈1Hz tick loop: build a Snapshot via dashboard.Builder,
// push it through Hub if changed, and keep every configured Uplink fed
// (spec.md §4.10). The loop only runs while there is at least one local
// subscriber or configured uplink, so an idle daemon stays quiet.
type Service struct {
	builder    *dashboard.Builder
	hub        *Hub
	uplinks    []*Uplink
	interval   time.Duration
	onSnapshot func(model.Snapshot)

	lastUplinkStatus map[string]UplinkStatus
}

// NewService wires a Service. uplinks may be empty.
func NewService(builder *dashboard.Builder, hub *Hub, uplinks []*Uplink, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		builder:          builder,
		hub:              hub,
		uplinks:          uplinks,
		interval:         interval,
		lastUplinkStatus: make(map[string]UplinkStatus, len(uplinks)),
	}
}

// OnSnapshot registers a side-effect callback invoked with every freshly
// built Snapshot, whether or not it was pushed (e.g. risk-escalation
// desktop toasts). The callback must not block the tick for long.
func (s *Service) OnSnapshot(fn func(model.Snapshot)) {
	s.onSnapshot = fn
}

// Run starts every uplink's reconnect loop and then runs the tick loop
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for _, u := range s.uplinks {
		go u.Run(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Count() == 0 && len(s.uplinks) == 0 {
				continue
			}
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	snap, err := s.builder.Build(ctx, time.Now())
	if err != nil {
		log.Printf("fanout: tick build: %v", err)
		return
	}
	s.hub.Push(snap, s.uplinks)
	s.annotateUplinkTransitions(snap.GeneratedAt)
	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
}

// annotateUplinkTransitions surfaces uplink connect/disconnect changes on
// the feed. These have no natural stable composite key (no session or
// turn is involved), so they go through AnnotateFeed's UUID-backed path.
func (s *Service) annotateUplinkTransitions(now time.Time) {
	for _, u := range s.uplinks {
		status, reason := u.Status()
		if s.lastUplinkStatus[u.target.PylonID] == status {
			continue
		}
		s.lastUplinkStatus[u.target.PylonID] = status
		msg := "uplink " + u.target.PylonName + " " + string(status)
		kind := model.FeedStart
		if status == UplinkDisconnected {
			kind = model.FeedError
			if reason != "" {
				msg += ": " + reason
			}
		}
		s.builder.AnnotateFeed(kind, "", msg, now)
	}
}

// LoadUplinks resolves relay.json's configured targets into running
// Uplink instances. Call once at startup.
func LoadUplinks(cfg *relay.Config, codec *relay.Codec) []*Uplink {
	out := make([]*Uplink, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		out = append(out, NewUplink(t, codec))
	}
	return out
}

// UplinkStatuses reports the current status of every uplink, keyed by
// PylonID, for inclusion in health/diagnostic surfaces.
func UplinkStatuses(uplinks []*Uplink) map[string]UplinkStatus {
	out := make(map[string]UplinkStatus, len(uplinks))
	for _, u := range uplinks {
		status, _ := u.Status()
		out[u.target.PylonID] = status
	}
	return out
}
