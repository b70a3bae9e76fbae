package repair

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSessionBusy is returned when a session already has a run in progress.
var ErrSessionBusy = errors.New("session already has a repair run in progress")

// SessionLocks is an in-process lease table granting one run per session.
type SessionLocks struct {
	mu   sync.Mutex
	held map[string]string
}

// NewSessionLocks creates an empty lease table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{held: make(map[string]string)}
}

// Acquire leases sessionID to runID. The returned release func is idempotent.
func (l *SessionLocks) Acquire(sessionID, runID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.held[sessionID]; ok {
		return nil, fmt.Errorf("%w: session %s is held by run %s", ErrSessionBusy, sessionID, holder)
	}
	l.held[sessionID] = runID

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[sessionID] == runID {
				delete(l.held, sessionID)
			}
		})
	}, nil
}

// Holder returns the run currently holding sessionID.
func (l *SessionLocks) Holder(sessionID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	runID, ok := l.held[sessionID]
	return runID, ok
}

// Active returns the number of leased sessions.
func (l *SessionLocks) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
