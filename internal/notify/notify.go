// Package notify fires a local desktop toast when an agent's risk
// transitions into critical (SPEC_FULL.md §4.8 supplemental feature),
// grounded on ODSapper-CLIAIMONITOR's internal/notifications/toast.go.
// It is a convenience surface only: failures are swallowed and it never
// blocks the tick (spec.md §7 transient-error taxonomy).
package notify

import (
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/go-toast/toast"
)

const appID = "Session Observatory"

// Notifier rate-limits and dispatches desktop toasts for risk escalations.
type Notifier struct {
	enabled  bool
	lastSent map[string]time.Time
}

// New returns a Notifier. When enabled is false every call is a no-op.
func New(enabled bool) *Notifier {
	return &Notifier{enabled: enabled, lastSent: make(map[string]time.Time)}
}

// NotifyCritical fires a toast the first time agentID enters critical risk,
// then at most once every 5 minutes thereafter while it stays critical.
func (n *Notifier) NotifyCritical(agentID, label, reason string, now time.Time) {
	if !n.enabled {
		return
	}
	if last, ok := n.lastSent[agentID]; ok && now.Sub(last) < 5*time.Minute {
		return
	}
	n.lastSent[agentID] = now

	if runtime.GOOS != "windows" {
		return
	}
	notification := toast.Notification{
		AppID:   appID,
		Title:   fmt.Sprintf("%s is at risk", label),
		Message: reason,
		Audio:   toast.Default,
	}
	if err := notification.Push(); err != nil {
		log.Printf("notify: toast push for %s: %v", agentID, err)
	}
}

// Clear drops the rate-limit entry for an agent no longer observed, so a
// future reappearance fires immediately rather than waiting out the window.
func (n *Notifier) Clear(agentID string) {
	delete(n.lastSent, agentID)
}
