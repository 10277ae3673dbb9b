package memory

import "sync"

// TurnLocker serializes turns within a session. Concurrent requests for
// the same session queue; requests for different sessions proceed in
// parallel. Locks are never evicted; one mutex per live session id is
// cheap at the scale sessions accumulate.
type TurnLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTurnLocker() *TurnLocker {
	return &TurnLocker{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the session's turn lock and returns the unlock func.
func (l *TurnLocker) Lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
