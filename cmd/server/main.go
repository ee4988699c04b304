// Command server runs the Session Observatory daemon: it watches agent
// rollout files, builds one Snapshot per tick, and fans it out to local
// subscribers and configured remote uplinks (spec.md §2).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-racer/observatory/internal/config"
	"github.com/agent-racer/observatory/internal/dashboard"
	"github.com/agent-racer/observatory/internal/fanout"
	"github.com/agent-racer/observatory/internal/labels"
	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/notify"
	"github.com/agent-racer/observatory/internal/planhistory"
	"github.com/agent-racer/observatory/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to XDG config dir)")
	listenAddr := flag.String("listen", "", "override the local fan-out listen address")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg := config.LoadOrDefault(cfgPath)
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	labelsStore, err := labels.Open(cfg.State.LabelsJSONPath, cfg.State.LabelsDBPath)
	if err != nil {
		log.Fatalf("open labels store: %v", err)
	}
	defer labelsStore.Close()

	planStore, err := planhistory.Open(cfg.State.PlanHistoryJSONPath, cfg.State.PlanHistoryDBPath)
	if err != nil {
		log.Fatalf("open plan history store: %v", err)
	}
	defer planStore.Close()
	planRefresher := planhistory.NewRefresher(planStore, planhistory.Roots{
		ClaudeRoot: cfg.Discovery.ClaudeRoot,
		CodexRoot:  cfg.Discovery.CodexRoot,
	})

	builder := dashboard.New(cfg, labelsStore)
	hub := fanout.NewHub(cfg.Server.MaxSubscribers)

	var uplinks []*fanout.Uplink
	if codec, err := relay.NewCodec(cfg.Relay.KeyPath); err != nil {
		log.Printf("relay: disabled, could not load key: %v", err)
	} else if relayCfg, err := relay.Load(cfg.Relay.ConfigPath, codec); err != nil {
		log.Printf("relay: disabled, could not load config: %v", err)
	} else {
		uplinks = fanout.LoadUplinks(relayCfg, codec)
	}

	svc := fanout.NewService(builder, hub, uplinks, cfg.Server.TickInterval)

	notifier := notify.New(cfg.Notify.Enabled)
	svc.OnSnapshot(func(snap model.Snapshot) {
		for _, a := range snap.Agents {
			if a.Risk.Overall == model.RiskCritical {
				notifier.NotifyCritical(a.ID, a.Label, criticalReason(a), snap.GeneratedAt)
			} else {
				notifier.Clear(a.ID)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go svc.Run(ctx)
	go runPlanHistoryLoop(ctx, planRefresher)
	go runLabelReclaimLoop(ctx, labelsStore)

	mux := http.NewServeMux()
	registerRoutes(mux, hub)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		<-sigCh
		log.Println("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// runPlanHistoryLoop refreshes the plan history index on its own schedule,
// independent of the dashboard's tick (spec.md §2 "Plan History runs on
// its own schedule, incrementally").
func runPlanHistoryLoop(ctx context.Context, r *planhistory.Refresher) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(false); err != nil {
				log.Printf("plan history refresh: %v", err)
			}
		}
	}
}

// runLabelReclaimLoop frees labels held by sessions not seen for the grace
// period (spec.md §4.5 step 4), off the tick's critical path.
func runLabelReclaimLoop(ctx context.Context, s *labels.Store) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reclaim(time.Now()); err != nil {
				log.Printf("labels reclaim: %v", err)
			}
		}
	}
}

func criticalReason(a model.Agent) string {
	for _, s := range a.Risk.SpinningSignals {
		if s.Level == model.RiskCritical {
			return s.Kind + ": " + s.Detail
		}
	}
	if a.Risk.ErrorRate > 0.35 {
		return "high error rate"
	}
	return "risk escalated to critical"
}
