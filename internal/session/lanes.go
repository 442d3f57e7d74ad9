package session

import "sync"

// lanes hands out one mutex per player id. Entries are reference counted
// and dropped once no event for that player is in flight.
type lanes struct {
	mu    sync.Mutex
	byKey map[string]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newLanes() *lanes {
	return &lanes{byKey: make(map[string]*lane)}
}

// lock blocks until the lane for key is free and returns its release func.
func (l *lanes) lock(key string) func() {
	l.mu.Lock()
	ln, ok := l.byKey[key]
	if !ok {
		ln = &lane{}
		l.byKey[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
	return func() {
		ln.mu.Unlock()
		l.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(l.byKey, key)
		}
		l.mu.Unlock()
	}
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
