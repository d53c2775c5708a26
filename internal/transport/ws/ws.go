// Package ws carries sidecar envelopes over a WebSocket connection. It plays
// the part of the cross-document channel between an embedding host and the
// editor: the host accepts, the component dials, and both ends exchange one
// JSON envelope per text message.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

const (
	defaultQueueSize    = 64
	defaultReadLimit    = 16 << 20
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
)

// Options tunes a WebSocket transport. The zero value is usable.
type Options struct {
	// OriginPatterns restricts which page origins may connect on the accept
	// side. Empty means any origin.
	OriginPatterns []string
	// QueueSize bounds outbound envelopes waiting for the writer. Envelopes
	// sent while the queue is full are dropped.
	QueueSize int
	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64
	// PingInterval is the keepalive period; negative disables pings.
	PingInterval time.Duration
	// HTTPHeader is sent with the dial request.
	HTTPHeader http.Header
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if len(out.OriginPatterns) == 0 {
		out.OriginPatterns = []string{"*"}
	}
	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}
	if out.ReadLimit <= 0 {
		out.ReadLimit = defaultReadLimit
	}
	if out.PingInterval == 0 {
		out.PingInterval = defaultPingInterval
	}
	return out
}

// Transport is a transport.Transport over one WebSocket connection.
type Transport struct {
	conn   *websocket.Conn
	subs   transport.Listeners
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	log    zerolog.Logger
}

// Dial connects to a host at url.
func Dial(ctx context.Context, url string, opts *Options) (*Transport, error) {
	o := opts.withDefaults()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: o.HTTPHeader})
	if err != nil {
		return nil, err
	}
	return newTransport(conn, o), nil
}

// Accept upgrades an HTTP request from a component. The caller's handler
// must not return before Done is closed.
func Accept(w http.ResponseWriter, r *http.Request, opts *Options) (*Transport, error) {
	o := opts.withDefaults()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: o.OriginPatterns})
	if err != nil {
		return nil, err
	}
	return newTransport(conn, o), nil
}

func newTransport(conn *websocket.Conn, o Options) *Transport {
	conn.SetReadLimit(o.ReadLimit)
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		send:   make(chan []byte, o.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logx.With("ws"),
	}
	go t.readLoop()
	go t.writeLoop()
	if o.PingInterval > 0 {
		go t.pingLoop(o.PingInterval)
	}
	return t
}

// Send queues env for the writer. It never blocks.
func (t *Transport) Send(env protocol.Envelope) {
	if t.closed.Load() {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.log.Debug().Err(err).Str("kind", string(env.Kind())).Msg("dropping unencodable envelope")
		return
	}
	select {
	case t.send <- b:
	default:
		t.log.Debug().Str("kind", string(env.Kind())).Msg("send queue full; dropping envelope")
	}
}

// OnMessage registers fn for inbound envelopes.
func (t *Transport) OnMessage(fn transport.Handler) func() {
	return t.subs.Add(fn)
}

// Done is closed once the connection has shut down for any reason.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close shuts the connection down.
func (t *Transport) Close() error {
	t.shutdown(websocket.StatusNormalClosure, "closing")
	return nil
}

func (t *Transport) shutdown(code websocket.StatusCode, reason string) {
	t.once.Do(func() {
		t.closed.Store(true)
		t.cancel()
		t.subs.Clear()
		_ = t.conn.Close(code, reason)
		close(t.done)
	})
}

func (t *Transport) readLoop() {
	defer t.shutdown(websocket.StatusNormalClosure, "closing")
	for {
		typ, data, err := t.conn.Read(t.ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				t.log.Debug().Str("reason", ce.Reason).Msg("peer closed")
			} else if t.ctx.Err() == nil {
				t.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := protocol.Parse(data)
		if err != nil {
			t.log.Trace().Err(err).Msg("dropping non-envelope message")
			continue
		}
		t.subs.Notify(env)
	}
}

func (t *Transport) writeLoop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case b := <-t.send:
			ctx, cancel := context.WithTimeout(t.ctx, writeTimeout)
			err := t.conn.Write(ctx, websocket.MessageText, b)
			cancel()
			if err != nil && t.ctx.Err() == nil {
				t.log.Debug().Err(err).Msg("write failed")
			}
		}
	}
}

func (t *Transport) pingLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(t.ctx, every)
			_ = t.conn.Ping(ctx)
			cancel()
		case <-t.ctx.Done():
			return
		}
	}
}

var _ transport.Transport = (*Transport)(nil)
