package fanout

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-racer/observatory/internal/model"
	"github.com/agent-racer/observatory/internal/relay"
)

// UplinkStatus is the externally observable state of one uplink target
// (spec.md §7: "surface its status as disconnected" on auth failure).
type UplinkStatus string

const (
	UplinkConnecting   UplinkStatus = "connecting"
	UplinkConnected    UplinkStatus = "connected"
	UplinkDisconnected UplinkStatus = "disconnected"
)

const (
	backoffMin       = 2 * time.Second
	backoffMax       = 10 * time.Second
	heartbeatEvery   = 15 * time.Second
	dialTimeout      = 5 * time.Second
)

// clientMessage and serverMessage mirror spec.md §6's uplink protocol.
type clientMessage struct {
	Type     string          `json:"type"`
	Token    string          `json:"token,omitempty"`
	PylonID  string          `json:"pylonId,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
}

type serverMessage struct {
	Type       string `json:"type"`
	OperatorID string `json:"operatorId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Uplink is one configured remote relay target's independent long-lived
// connection, with its own reconnect/auth/push loop (spec.md §4.10, §5).
type Uplink struct {
	target relay.Target
	codec  *relay.Codec

	mu      sync.Mutex
	status  UplinkStatus
	lastErr string
	pending chan model.Snapshot

	// lastSentBody is the last filtered-view serialization (MessageID
	// blanked) actually written to this target's connection. A
	// state_update is sent only when the filtered view changes (spec.md
	// §6, §4.10), mirroring Hub.lastBody but scoped to this target's own
	// project filter rather than the global Snapshot.
	lastSentBody []byte
}

// NewUplink constructs an Uplink for target. Call Run in its own
// goroutine to start the reconnect loop.
func NewUplink(target relay.Target, codec *relay.Codec) *Uplink {
	return &Uplink{
		target:  target,
		codec:   codec,
		status:  UplinkConnecting,
		pending: make(chan model.Snapshot, 1),
	}
}

// QueueSnapshot replaces any not-yet-sent pending snapshot with the
// latest one; only the freshest view is ever in flight per target.
func (u *Uplink) QueueSnapshot(snap model.Snapshot) {
	filtered := filterSnapshot(snap, u.target.Projects)
	select {
	case <-u.pending:
	default:
	}
	select {
	case u.pending <- filtered:
	default:
	}
}

// Status reports the uplink's current connection state.
func (u *Uplink) Status() (UplinkStatus, string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status, u.lastErr
}

func (u *Uplink) setStatus(s UplinkStatus, errMsg string) {
	u.mu.Lock()
	u.status, u.lastErr = s, errMsg
	u.mu.Unlock()
}

// Run drives the reconnect loop until ctx is cancelled. Backoff starts at
// backoffMin and doubles up to backoffMax, resetting on any successful
// receive (spec.md §4.10).
func (u *Uplink) Run(ctx context.Context) {
	backoff := backoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		ok := u.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		if ok {
			backoff = backoffMin
		}
		u.setStatus(UplinkDisconnected, u.lastErrLocked())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (u *Uplink) lastErrLocked() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// connectAndServe dials, authenticates, and serves one connection's
// lifetime. Returns true if at least one message was successfully
// exchanged (used to decide whether to reset backoff).
func (u *Uplink) connectAndServe(ctx context.Context) bool {
	u.setStatus(UplinkConnecting, "")

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.target.WSURL, nil)
	if err != nil {
		u.setStatus(UplinkDisconnected, err.Error())
		return false
	}
	defer conn.Close()

	token, err := u.target.DecryptToken(u.codec)
	if err != nil {
		u.setStatus(UplinkDisconnected, "decrypt token: "+err.Error())
		return false
	}

	authMsg := clientMessage{Type: "auth", Token: token, PylonID: u.target.PylonID}
	if err := conn.WriteJSON(authMsg); err != nil {
		u.setStatus(UplinkDisconnected, err.Error())
		return false
	}

	var resp serverMessage
	if err := conn.ReadJSON(&resp); err != nil {
		u.setStatus(UplinkDisconnected, err.Error())
		return false
	}
	if resp.Type == "auth_error" {
		u.setStatus(UplinkDisconnected, resp.Reason)
		log.Printf("fanout: uplink %s auth rejected: %s", u.target.PylonName, resp.Reason)
		return false
	}
	if resp.Type != "auth_ok" {
		u.setStatus(UplinkDisconnected, "unexpected auth response")
		return false
	}

	u.setStatus(UplinkConnected, "")
	succeeded := true

	// A fresh connection has no history on the relay side, so the next
	// queued snapshot must go out regardless of whether it matches the
	// last thing sent on a prior connection.
	u.mu.Lock()
	u.lastSentBody = nil
	u.mu.Unlock()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	done := make(chan struct{})
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return succeeded
		case <-done:
			return succeeded
		case <-heartbeat.C:
			if err := conn.WriteJSON(clientMessage{Type: "heartbeat"}); err != nil {
				return succeeded
			}
		case snap := <-u.pending:
			if !u.shouldSend(snap) {
				continue
			}

			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			msg := clientMessage{Type: "state_update", State: data}
			if err := conn.WriteJSON(msg); err != nil {
				return succeeded
			}
			u.markSent(snap)
			succeeded = true
		}
	}
}

// shouldSend reports whether snap's filtered view differs from the last one
// actually written to this target's connection (spec.md §6 "a state_update
// is sent only when the filtered view changes"). snap is assumed already
// filtered to this target's project list (QueueSnapshot does that before
// queueing).
func (u *Uplink) shouldSend(snap model.Snapshot) bool {
	body, err := compareBody(snap)
	if err != nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastSentBody == nil || string(body) != string(u.lastSentBody)
}

// markSent records snap's filtered view as the last one sent, so the next
// identical view is skipped.
func (u *Uplink) markSent(snap model.Snapshot) {
	body, err := compareBody(snap)
	if err != nil {
		return
	}
	u.mu.Lock()
	u.lastSentBody = body
	u.mu.Unlock()
}

// compareBody serializes snap with its MessageID blanked, so two snapshots
// that differ only by the monotonically increasing message id still compare
// equal.
func compareBody(snap model.Snapshot) ([]byte, error) {
	snap.MessageID = ""
	return json.Marshal(snap)
}

// filterSnapshot restricts a Snapshot's agents/workstreams to the
// target's included project list (spec.md §4.10 "per target filtering").
// An empty project list means no filtering.
func filterSnapshot(snap model.Snapshot, projects []string) model.Snapshot {
	if len(projects) == 0 {
		return snap
	}
	allowed := make(map[string]bool, len(projects))
	for _, p := range projects {
		allowed[p] = true
	}

	var agents []model.Agent
	for _, a := range snap.Agents {
		if allowed[a.ProjectPath] {
			agents = append(agents, a)
		}
	}
	var workstreams []model.Workstream
	for _, w := range snap.Workstreams {
		if allowed[w.ProjectPath] {
			workstreams = append(workstreams, w)
		}
	}
	var collisions []model.Collision
	for _, c := range snap.Collisions {
		if allowed[c.ProjectPath] {
			collisions = append(collisions, c)
		}
	}
	snap.Agents = agents
	snap.Workstreams = workstreams
	snap.Collisions = collisions
	return snap
}
