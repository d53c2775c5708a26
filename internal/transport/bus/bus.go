// Package bus provides a process-wide named event bus and a transport on top
// of it, so two bridges running in the same process (a thin host wrapper and
// the embedded editor, for instance) can talk without a network hop.
package bus

import (
	"sync"
)

// Bus fans published values out to every subscriber of a channel name. It
// carries arbitrary values; sidecar traffic is one tenant among others.
type Bus struct {
	mu       sync.Mutex
	next     uint64
	channels map[string][]subscriber
}

type subscriber struct {
	id uint64
	fn func(any)
}

var defaultBus = New()

// Default returns the process-wide bus.
func Default() *Bus { return defaultBus }

// New returns an isolated bus.
func New() *Bus {
	return &Bus{channels: map[string][]subscriber{}}
}

// Subscribe registers fn for values published on channel.
func (b *Bus) Subscribe(channel string, fn func(any)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.channels[channel] = append(b.channels[channel], subscriber{id: id, fn: fn})
	b.mu.Unlock()
	return func() { b.unsubscribe(channel, id) }
}

func (b *Bus) unsubscribe(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.channels[channel]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.channels, channel)
		} else {
			b.channels[channel] = subs
		}
		return
	}
}

// Publish delivers v synchronously to every subscriber of channel, including
// any subscriber owned by the publisher itself.
func (b *Bus) Publish(channel string, v any) {
	b.mu.Lock()
	subs := b.channels[channel]
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}

// Subscribers returns the number of subscribers on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}
