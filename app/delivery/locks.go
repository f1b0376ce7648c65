package delivery

import (
	"sync"
)

// userLocks serializes delivery attempts per user. The lock is held for the
// whole pipeline, from the quota read to the history write, so a concurrent
// on-demand and scheduled send for the same user cannot compute the same
// issue number or consume the same queued-article snapshot.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the user's delivery lock and returns the unlock function.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	userMu, ok := l.locks[userID]
	if !ok {
		userMu = &sync.Mutex{}
		l.locks[userID] = userMu
	}
	l.mu.Unlock()

	userMu.Lock()
	return userMu.Unlock
}
