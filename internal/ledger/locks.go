package ledger

import (
	"sync"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

// scopeLocks hands out one mutex per scope and drops it once nobody holds or
// waits on it.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[models.Scope]*scopeLock
}

type scopeLock struct {
	sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[models.Scope]*scopeLock)}
}

func (s *scopeLocks) lock(scope models.Scope) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[scope]
	if !ok {
		l = &scopeLock{}
		s.locks[scope] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, scope)
		}
		s.mu.Unlock()
	}
}

func (s *scopeLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
