// Package transport defines the channel abstraction the bridge runs on.
//
// A Transport moves opaque envelopes between two peers. It has no protocol
// knowledge beyond rejecting values that are not envelopes: delivery is best
// effort and order preserving within one transport instance, and send
// failures are swallowed. The bridge's timeouts are the only failure signal
// callers ever see.
package transport

import (
	"encoding/json"

	"github.com/gaspardpetit/sidecar/internal/protocol"
)

// Handler receives one inbound envelope.
type Handler func(protocol.Envelope)

// Transport carries envelopes to and from a peer.
type Transport interface {
	// Send pushes env toward the peer. It never blocks on the peer and
	// silently drops env once the transport is closed.
	Send(env protocol.Envelope)
	// OnMessage registers fn for every inbound envelope and returns a
	// function that removes it again.
	OnMessage(fn Handler) (unsubscribe func())
	// Close releases the channel and drops all subscribers. Calling it more
	// than once is harmless.
	Close() error
}

// Events subscribes fn to event envelopes called name observed on t. It is
// the receive side of Bridge.EmitEvent, which has no registration API of its
// own.
func Events(t Transport, name string, fn func(payload json.RawMessage)) (unsubscribe func()) {
	return t.OnMessage(func(env protocol.Envelope) {
		ev, ok := env.Body.(protocol.Event)
		if !ok || ev.Name != name {
			return
		}
		fn(ev.Payload)
	})
}
