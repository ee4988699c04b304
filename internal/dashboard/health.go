package dashboard

import (
	"sync"

	"github.com/agent-racer/observatory/internal/model"
)

// healthThreshold is the consecutive-failure count that flips a source
// from degraded to failed, mirroring the teacher's
// internal/monitor/health.go sourceHealth tracker generalized from one
// Source to any fallible per-family adapter.
const healthThreshold = 3

type sourceHealth struct {
	mu               sync.Mutex
	discoverFailures int
	lastErr          string
}

func newSourceHealth() *sourceHealth { return &sourceHealth{} }

func (h *sourceHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures = 0
	h.lastErr = ""
}

func (h *sourceHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures++
	h.lastErr = err.Error()
}

func (h *sourceHealth) snapshot(family model.AgentFamily) model.SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := model.SourceHealthy
	switch {
	case h.discoverFailures >= healthThreshold:
		status = model.SourceFailed
	case h.discoverFailures > 0:
		status = model.SourceDegraded
	}
	return model.SourceHealth{Family: family, Status: status, LastError: h.lastErr}
}
