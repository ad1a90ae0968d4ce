package ledger

import (
	"fmt"
	"sync"
)

// slotLocks hands out one mutex per (agent, slot) and frees it when the last holder leaves.
type slotLocks struct {
	mu    sync.Mutex
	locks map[string]*slotLock
}

type slotLock struct {
	mu   sync.Mutex
	refs int
}

func slotKey(agent string, slot int) string {
	return fmt.Sprintf("%s#%d", agent, slot)
}

func (s *slotLocks) lock(agent string, slot int) func() {
	key := slotKey(agent, slot)

	s.mu.Lock()
	if s.locks == nil {
		s.locks = map[string]*slotLock{}
	}
	l := s.locks[key]
	if l == nil {
		l = &slotLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *slotLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
