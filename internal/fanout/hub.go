// Package fanout pushes Snapshots to local subscribers and remote uplink
// targets, but only when the snapshot actually changed (spec.md §4.10,
// invariant 7 "push idempotence"). The subscriber hub and per-client
// non-blocking send/drop-slow-client discipline are generalized from the
// teacher's internal/ws.Broadcaster.
package fanout

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/agent-racer/observatory/internal/model"
)

// Subscriber is a local push target. Its channel (created by Hub.Subscribe)
// is buffered; a subscriber that can't keep up is dropped rather than
// back-pressuring the tick (§5 concurrency model).
type Subscriber struct {
	ch     chan []byte
	closed atomic.Bool
}

// Send enqueues a fully serialized Snapshot message without blocking. If the
// buffer is full the subscriber is closed: its transport sees the channel
// end after draining what is buffered.
func (s *Subscriber) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- data:
	default:
		s.close()
	}
}

// C returns the channel a subscriber's transport adapter (SSE handler,
// local test) should range over.
func (s *Subscriber) C() <-chan []byte { return s.ch }

func (s *Subscriber) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is the process-wide singleton that owns local subscribers and
// compares successive tick-built Snapshots, pushing only on change.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]bool
	maxSubs     int

	seq       atomic.Uint64
	lastBody  []byte // last-pushed serialization with MessageID blanked
	lastFinal []byte // last-pushed serialization with MessageID set
}

// NewHub returns an empty Hub allowing up to maxSubs concurrent
// subscribers (0 = unlimited).
func NewHub(maxSubs int) *Hub {
	return &Hub{subscribers: make(map[*Subscriber]bool), maxSubs: maxSubs}
}

// ErrTooManySubscribers is returned by Subscribe when maxSubs is reached.
var ErrTooManySubscribers = errTooMany{}

type errTooMany struct{}

func (errTooMany) Error() string { return "fanout: too many subscribers" }

// Subscribe registers a new subscriber and immediately sends it the
// current Snapshot if one has been built yet (spec.md §4.10 "new
// subscribers immediately receive the current Snapshot, then join the
// change stream").
func (h *Hub) Subscribe() (*Subscriber, error) {
	h.mu.Lock()
	if h.maxSubs > 0 && len(h.subscribers) >= h.maxSubs {
		h.mu.Unlock()
		return nil, ErrTooManySubscribers
	}
	sub := &Subscriber{ch: make(chan []byte, 32)}
	h.subscribers[sub] = true
	current := h.lastFinal
	h.mu.Unlock()

	if current != nil {
		sub.Send(current)
	}
	return sub, nil
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		sub.close()
	}
	h.mu.Unlock()
}

// Current returns the last successfully pushed Snapshot encoding (with its
// message id set), or nil if none has been pushed yet.
func (h *Hub) Current() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastFinal
}

// Count reports the current subscriber count; the tick loop uses this to
// decide whether it's worth running at all (§4.10 "only while there is at
// least one local subscriber or configured uplink").
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Push compares snapshot to the last pushed one (ignoring MessageID) and,
// if different, assigns the next message id and pushes it to every
// subscriber and every registered uplink's queue. Returns whether a push
// happened.
func (h *Hub) Push(snapshot model.Snapshot, uplinks []*Uplink) bool {
	snapshot.MessageID = ""
	bare, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("fanout: marshal snapshot: %v", err)
		return false
	}

	h.mu.Lock()
	unchanged := h.lastBody != nil && string(bare) == string(h.lastBody)
	if unchanged {
		h.mu.Unlock()
		return false
	}
	h.lastBody = bare
	h.mu.Unlock()

	snapshot.MessageID = strconv.FormatUint(h.seq.Add(1), 10)
	final, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("fanout: marshal final snapshot: %v", err)
		return false
	}

	h.mu.Lock()
	h.lastFinal = final
	h.mu.Unlock()

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		s.Send(final)
	}

	for _, u := range uplinks {
		u.QueueSnapshot(snapshot)
	}
	return true
}
