package checkpoint

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory. Used by tests and by the
// CLI when no database path is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps []Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, snap Snapshot) error {
	snap.Values = append([]byte(nil), snap.Values...)
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, threadKey string, scope Scope) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]Snapshot, 0)
	for _, snap := range s.snaps {
		if !matches(snap.ThreadKey, threadKey, scope) {
			continue
		}
		snap.Values = append([]byte(nil), snap.Values...)
		ret = append(ret, snap)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.snaps[:0]
	var removed int64
	for _, snap := range s.snaps {
		if snap.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps = kept
	return removed, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

func matches(key, want string, scope Scope) bool {
	if scope == ScopePrefix {
		return strings.HasPrefix(key, want)
	}
	return key == want
}
