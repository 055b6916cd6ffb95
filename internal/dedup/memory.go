// internal/dedup/memory.go
package dedup

import (
	"context"
	"sync"
)

// Memory is a process-local guard. It does not survive restarts and is not
// shared between workers; use the Postgres guard for anything beyond a
// single process.
type Memory struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[int64]struct{})}
}

func (m *Memory) IsKnown(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[userID]
	return ok, nil
}

// MarkKnown inserts the id and reports whether it was newly added. The
// first caller wins; concurrent duplicates get false.
func (m *Memory) MarkKnown(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[userID]; ok {
		return false, nil
	}
	m.seen[userID] = struct{}{}
	return true, nil
}
