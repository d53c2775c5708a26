package transport

import (
	"sync"

	"github.com/gaspardpetit/sidecar/internal/protocol"
)

// Listeners is a subscriber set shared by the transport implementations.
// Subscribers are notified in registration order from a snapshot, so a
// callback may unsubscribe itself (or others) while being notified.
type Listeners struct {
	mu   sync.Mutex
	next uint64
	subs []listener
}

type listener struct {
	id uint64
	fn Handler
}

// Add registers fn and returns its removal function.
func (l *Listeners) Add(fn Handler) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, listener{id: id, fn: fn})
	l.mu.Unlock()
	return func() { l.remove(id) }
}

func (l *Listeners) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers env to every current subscriber.
func (l *Listeners) Notify(env protocol.Envelope) {
	l.mu.Lock()
	snapshot := l.subs
	l.mu.Unlock()
	for _, s := range snapshot {
		s.fn(env)
	}
}

// Clear drops every subscriber.
func (l *Listeners) Clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}

// Len returns the number of subscribers.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
