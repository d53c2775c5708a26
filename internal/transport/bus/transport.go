package bus

import (
	"sync/atomic"

	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

// Transport attaches to one channel of a Bus. Every transport on the channel
// observes every publication, its own included; bridges rely on sender tags
// to skip their own traffic.
type Transport struct {
	bus     *Bus
	channel string
	subs    transport.Listeners
	off     func()
	closed  atomic.Bool
}

// NewTransport attaches to channel on b. A nil bus selects Default and an
// empty channel selects protocol.ProtocolID.
func NewTransport(b *Bus, channel string) *Transport {
	if b == nil {
		b = Default()
	}
	if channel == "" {
		channel = protocol.ProtocolID
	}
	t := &Transport{bus: b, channel: channel}
	t.off = b.Subscribe(channel, t.receive)
	return t
}

func (t *Transport) receive(v any) {
	env, err := protocol.FromValue(v)
	if err != nil {
		logx.Log.Trace().Err(err).Str("channel", t.channel).Msg("bus: dropping non-envelope value")
		return
	}
	t.subs.Notify(env)
}

// Send publishes env on the channel.
func (t *Transport) Send(env protocol.Envelope) {
	if t.closed.Load() {
		return
	}
	t.bus.Publish(t.channel, env)
}

// OnMessage registers fn for envelopes observed on the channel.
func (t *Transport) OnMessage(fn transport.Handler) func() {
	return t.subs.Add(fn)
}

// Close detaches from the bus.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.off()
	t.subs.Clear()
	return nil
}

var _ transport.Transport = (*Transport)(nil)
