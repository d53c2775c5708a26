// Package mem provides an in-memory loopback transport pair for tests and
// for wiring two bridges inside one process without any shared resource.
package mem

import (
	"sync/atomic"

	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

// Endpoint is one side of a loopback pair.
type Endpoint struct {
	peer   *Endpoint
	subs   transport.Listeners
	closed atomic.Bool
}

// Pair returns two endpoints wired to each other. Send on one side invokes
// the other side's subscribers synchronously, on the caller's goroutine.
func Pair() (*Endpoint, *Endpoint) {
	a, b := &Endpoint{}, &Endpoint{}
	a.peer, b.peer = b, a
	return a, b
}

// Send delivers env to the peer's subscribers.
func (e *Endpoint) Send(env protocol.Envelope) {
	if e.closed.Load() {
		return
	}
	e.peer.subs.Notify(env)
}

// OnMessage registers fn for envelopes sent by the peer.
func (e *Endpoint) OnMessage(fn transport.Handler) func() {
	return e.subs.Add(fn)
}

// Close stops this side from sending and drops its subscribers.
func (e *Endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.subs.Clear()
	return nil
}

var _ transport.Transport = (*Endpoint)(nil)
