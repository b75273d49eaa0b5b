package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process. Each key has its own lock so that
// unrelated actors never contend.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[Key]*memorySlot
}

type memorySlot struct {
	mu      sync.Mutex
	counter Counter
	// dead is set once the slot has been evicted; holders must look it up again.
	dead bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[Key]*memorySlot)}
}

func (s *MemoryStore) slot(key Key) *memorySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &memorySlot{counter: Counter{Key: key}}
		s.slots[key] = sl
	}
	return sl
}

// Admit implements Store.
func (s *MemoryStore) Admit(_ context.Context, key Key, p Policy, now time.Time) (Counter, bool, error) {
	sl := s.slot(key)
	sl.mu.Lock()
	for sl.dead {
		sl.mu.Unlock()
		sl = s.slot(key)
		sl.mu.Lock()
	}
	defer sl.mu.Unlock()

	if !sl.counter.Live(now) {
		sl.counter = Counter{Key: key, WindowStart: now, WindowExpiry: now.Add(p.Window), Count: 1}
		return sl.counter, true, nil
	}
	if sl.counter.Count < p.Limit {
		sl.counter.Count++
		return sl.counter, true, nil
	}
	return sl.counter, false, nil
}

// PruneRateLimits drops counters whose window has expired by now and returns
// how many were removed.
func (s *MemoryStore) PruneRateLimits(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, sl := range s.slots {
		sl.mu.Lock()
		if !sl.counter.Live(now) {
			sl.dead = true
			delete(s.slots, key)
			n++
		}
		sl.mu.Unlock()
	}
	return n, nil
}

// Len reports how many counters are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
