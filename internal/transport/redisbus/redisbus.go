// Package redisbus carries sidecar envelopes over a Redis pub/sub channel,
// a named bus shared by processes instead of by one address space.
package redisbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

const publishTimeout = 5 * time.Second

// Transport publishes to and subscribes on one Redis channel. Like the
// in-process bus, it observes its own publications.
type Transport struct {
	client  redis.UniversalClient
	channel string
	pubsub  *redis.PubSub
	subs    transport.Listeners
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	once    sync.Once
	done    chan struct{}
	log     zerolog.Logger
}

// New subscribes to channel and returns once Redis has confirmed the
// subscription. An empty channel selects protocol.ProtocolID.
func New(ctx context.Context, client redis.UniversalClient, channel string) (*Transport, error) {
	if channel == "" {
		channel = protocol.ProtocolID
	}
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		client:  client,
		channel: channel,
		pubsub:  ps,
		ctx:     loopCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logx.With("redisbus").With().Str("channel", channel).Logger(),
	}
	go t.receiveLoop()
	return t, nil
}

func (t *Transport) receiveLoop() {
	defer close(t.done)
	ch := t.pubsub.Channel()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := protocol.Parse([]byte(msg.Payload))
			if err != nil {
				t.log.Trace().Err(err).Msg("dropping non-envelope message")
				continue
			}
			t.subs.Notify(env)
		}
	}
}

// Send publishes env. Publish errors are logged at debug level and dropped.
func (t *Transport) Send(env protocol.Envelope) {
	if t.closed.Load() {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.log.Debug().Err(err).Msg("dropping unencodable envelope")
		return
	}
	ctx, cancel := context.WithTimeout(t.ctx, publishTimeout)
	defer cancel()
	if err := t.client.Publish(ctx, t.channel, b).Err(); err != nil {
		t.log.Debug().Err(err).Str("kind", string(env.Kind())).Msg("publish failed")
	}
}

// OnMessage registers fn for envelopes observed on the channel.
func (t *Transport) OnMessage(fn transport.Handler) func() {
	return t.subs.Add(fn)
}

// Close unsubscribes. The Redis client itself stays open; it belongs to the caller.
func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		t.cancel()
		t.subs.Clear()
		err = t.pubsub.Close()
	})
	return err
}

var _ transport.Transport = (*Transport)(nil)
