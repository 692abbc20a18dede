package flow

import "sync"

// senderLocks serializes turns per sender. Entries are reference counted and
// removed once no turn holds or waits on them, so the table only grows with
// the number of senders that are mid-turn.
type senderLocks struct {
	mu      sync.Mutex
	entries map[string]*senderEntry
}

type senderEntry struct {
	mu   sync.Mutex
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{entries: make(map[string]*senderEntry)}
}

// lock blocks until the caller owns the sender's turn and returns the release func.
func (l *senderLocks) lock(sender string) func() {
	l.mu.Lock()
	entry, ok := l.entries[sender]
	if !ok {
		entry = &senderEntry{}
		l.entries[sender] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, sender)
		}
		l.mu.Unlock()
	}
}

// size reports the number of live entries.
func (l *senderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
