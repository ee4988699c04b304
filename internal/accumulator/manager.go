package accumulator

import (
	"sync"

	"github.com/agent-racer/observatory/internal/model"
)

// Manager owns the parse cache and one SessionAccumulator per session id,
// giving callers a single entry point: hand it a path and family, get back
// compaction-safe stats and turns. Grounded in the teacher's
// trackedSession bookkeeping in monitor.go, generalized away from any one
// Source implementation.
type Manager struct {
	cache *Cache

	mu           sync.Mutex
	accumulators map[string]*SessionAccumulator
}

// NewManager returns a Manager with an empty cache and no known sessions.
func NewManager() *Manager {
	return &Manager{
		cache:        NewCache(),
		accumulators: make(map[string]*SessionAccumulator),
	}
}

// Resolve parses sessionID's rollout at path (via the shared parse cache)
// and folds the result through that session's accumulator, returning
// compaction-safe stats and reindexed turns.
func (m *Manager) Resolve(sessionID, path string, family model.AgentFamily) (model.SessionStats, []model.TurnNode, error) {
	parsed, err := m.cache.Parse(path, family)
	if err != nil {
		return model.SessionStats{}, nil, err
	}

	acc := m.accumulatorFor(sessionID)
	stats, turnList := acc.Merge(parsed)
	return stats, turnList, nil
}

func (m *Manager) accumulatorFor(sessionID string) *SessionAccumulator {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accumulators[sessionID]
	if !ok {
		acc = NewSessionAccumulator()
		m.accumulators[sessionID] = acc
	}
	return acc
}

// Forget drops a session's accumulator and parse cache entry once it is no
// longer discovered, so dead sessions don't leak memory across a
// long-running daemon's lifetime.
func (m *Manager) Forget(sessionID, path string) {
	m.cache.Forget(path)
	m.mu.Lock()
	delete(m.accumulators, sessionID)
	m.mu.Unlock()
}
