package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. Intended for tests and
// development; production deployments use [PGStore].
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	failErr error
}

// NewMemoryStore returns an empty in-memory trail.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes every subsequent Append return err, simulating an outage.
// Pass nil to heal.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Append stores a copy of the entry.
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}

	if entry.Details != nil {
		copied := make(map[string]string, len(entry.Details))
		for k, v := range entry.Details {
			copied[k] = v
		}
		entry.Details = copied
	}
	s.entries = append(s.entries, entry)
	return nil
}

// Query filters the stored entries in append order.
func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if filter.ActorUserID != "" && e.ActorUserID != filter.ActorUserID {
			continue
		}
		if filter.OnlyPHI && !e.PHIAccessed {
			continue
		}
		if !filter.Window.Contains(e.Timestamp) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
