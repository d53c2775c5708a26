// Package bridge implements the sidecar protocol engine on top of a
// transport: the capability handshake, request/response correlation with
// per-call timeouts, inbound request dispatch and one-way events.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

const (
	DefaultHandshakeTimeout = 1200 * time.Millisecond
	DefaultRequestTimeout   = 5 * time.Second
)

// unhandledPayload is attached to the failure sent for an operation with no
// registered handler.
var unhandledPayload = json.RawMessage(`{"ok":false}`)

// HandlerFunc serves one inbound request. The returned value is encoded as
// the response payload; a non-nil error turns the response into a failure
// carrying err.Error(). ctx is cancelled when the bridge is disposed.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Option configures a Bridge.
type Option func(*Bridge)

// WithCapabilities makes the bridge answer every inbound handshake:init with
// a handshake:ack advertising caps. Hosts use it; components normally don't.
func WithCapabilities(caps protocol.Capabilities) Option {
	return func(b *Bridge) {
		c := caps
		b.advertised = &c
	}
}

// WithObserver reports protocol activity to o.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.obs = o
		}
	}
}

// pending is one outstanding outbound request. It owns its timer; whoever
// removes it from the table stops the timer.
type pending struct {
	op    string
	timer *time.Timer
	done  chan result
}

type result struct {
	payload json.RawMessage
	err     error
}

// Bridge is one peer's protocol engine.
type Bridge struct {
	transport  transport.Transport
	role       protocol.Role
	advertised *protocol.Capabilities
	obs        Observer
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	pending      map[string]*pending
	handlers     map[string]HandlerFunc
	capabilities *protocol.Capabilities
	connected    bool
	disposed     bool
	unlisten     func()
}

// New attaches a bridge playing role to t. RoleNone is treated as
// RoleComponent.
func New(t transport.Transport, role protocol.Role, opts ...Option) *Bridge {
	if role == protocol.RoleNone {
		role = protocol.RoleComponent
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		transport: t,
		role:      role,
		obs:       nopObserver{},
		log:       logx.With("bridge").With().Str("role", role.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		pending:   map[string]*pending{},
		handlers:  map[string]HandlerFunc{},
	}
	for _, o := range opts {
		o(b)
	}
	b.unlisten = t.OnMessage(b.onMessage)
	return b
}

// Role returns the role this bridge tags its messages with.
func (b *Bridge) Role() protocol.Role { return b.role }

// Transport returns the underlying transport, for event subscriptions.
func (b *Bridge) Transport() transport.Transport { return b.transport }

// Connected reports whether a handshake has succeeded.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Capabilities returns the peer's capabilities from the last successful
// handshake, or nil.
func (b *Bridge) Capabilities() *protocol.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capabilities == nil {
		return nil
	}
	c := *b.capabilities
	return &c
}

// Handshake announces this side and waits for the peer's capabilities. It
// returns nil when no valid handshake:ack arrives within timeout or before
// ctx ends; a missing host is an expected outcome, not an error. Handshake
// may be called again after a nil result.
func (b *Bridge) Handshake(ctx context.Context, timeout time.Duration) *protocol.Capabilities {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	acks := make(chan protocol.Capabilities, 1)
	off := b.transport.OnMessage(func(env protocol.Envelope) {
		if !b.accepts(env) {
			return
		}
		ack, ok := env.Body.(protocol.HandshakeAck)
		if !ok || !ack.Capabilities.Valid() {
			return
		}
		select {
		case acks <- ack.Capabilities:
		default:
		}
	})
	defer off()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	b.transport.Send(protocol.NewHandshakeInit(b.role))

	select {
	case caps := <-acks:
		b.mu.Lock()
		b.capabilities = &caps
		b.connected = true
		b.mu.Unlock()
		b.obs.HandshakeFinished(true)
		b.log.Debug().Str("host", caps.Host.ID).Strs("operations", caps.OperationNames()).Msg("handshake complete")
		return &caps
	case <-timer.C:
		b.obs.HandshakeFinished(false)
		b.log.Debug().Dur("timeout", timeout).Msg("handshake timed out; running standalone")
		return nil
	case <-ctx.Done():
		b.obs.HandshakeFinished(false)
		return nil
	}
}

// OnRequest registers h for op, replacing any previous handler. A nil h
// removes the registration.
func (b *Bridge) OnRequest(op string, h HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		delete(b.handlers, op)
		return
	}
	b.handlers[op] = h
}

// Request sends op with payload and waits for the matching response.
// payload may be nil, a json.RawMessage, or any JSON-encodable value.
//
// The call ends with the response payload, a *RequestError for ok:false, a
// *RemoteError for an error envelope, a *TimeoutError once timeout elapses,
// or ctx.Err(). After Dispose, outstanding calls are no longer settled by
// the bridge and only return through ctx.
func (b *Bridge) Request(ctx context.Context, op string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("sidecar: %s: encode payload: %w", op, err)
	}
	env := protocol.NewRequest(b.role, op, raw)
	p := &pending{op: op, done: make(chan result, 1)}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil, ErrDisposed
	}
	p.timer = time.AfterFunc(timeout, func() {
		b.settle(env.ID, result{err: &TimeoutError{Op: op}})
	})
	b.pending[env.ID] = p
	b.mu.Unlock()

	start := time.Now()
	b.obs.RequestStarted(op)
	b.transport.Send(env)

	select {
	case r := <-p.done:
		b.obs.RequestFinished(op, outcomeOf(r.err), time.Since(start))
		return r.payload, r.err
	case <-ctx.Done():
		b.take(env.ID)
		b.obs.RequestFinished(op, OutcomeAbandoned, time.Since(start))
		return nil, ctx.Err()
	}
}

// EmitEvent sends a one-way event. There is no acknowledgement.
func (b *Bridge) EmitEvent(name string, payload any) {
	raw, err := encodePayload(payload)
	if err != nil {
		b.log.Warn().Err(err).Str("event", name).Msg("dropping event with unencodable payload")
		return
	}
	b.transport.Send(protocol.NewEvent(b.role, name, raw))
	b.obs.EventEmitted(name)
}

// Pending returns the number of outstanding outbound requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dispose detaches from and closes the transport, stops every pending timer
// and forgets the pending requests without settling them. Calling it again
// has no effect.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	dropped := b.pending
	b.pending = map[string]*pending{}
	unlisten := b.unlisten
	b.mu.Unlock()

	unlisten()
	for _, p := range dropped {
		p.timer.Stop()
	}
	b.cancel()
	if err := b.transport.Close(); err != nil {
		b.log.Debug().Err(err).Msg("transport close")
	}
	if len(dropped) > 0 {
		b.log.Debug().Int("pending", len(dropped)).Msg("disposed with requests in flight")
	}
}

// take removes the pending record for id and stops its timer.
func (b *Bridge) take(id string) *pending {
	b.mu.Lock()
	p := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if p != nil {
		p.timer.Stop()
	}
	return p
}

// settle completes the pending request id with r. Records already settled,
// abandoned or dropped by Dispose are ignored.
func (b *Bridge) settle(id string, r result) bool {
	p := b.take(id)
	if p == nil {
		return false
	}
	p.done <- r
	return true
}

// accepts reports whether env belongs to this protocol and came from the
// other side. Transports that skip protocol.Parse can deliver anything.
func (b *Bridge) accepts(env protocol.Envelope) bool {
	if env.Protocol != protocol.ProtocolID || env.ID == "" || env.Body == nil {
		return false
	}
	return env.Sender != b.role
}

func (b *Bridge) onMessage(env protocol.Envelope) {
	if !b.accepts(env) {
		return
	}
	switch body := env.Body.(type) {
	case protocol.HandshakeInit:
		b.answerHandshake(env)
	case protocol.Request:
		go b.serve(env.ID, body)
	case protocol.Response:
		if body.InReplyTo == "" {
			return
		}
		if !b.settle(body.InReplyTo, resultOf(body)) {
			b.log.Trace().Str("op", body.Op).Str("in_reply_to", body.InReplyTo).Msg("response without pending request")
		}
	case protocol.ErrorMessage:
		if body.InReplyTo == "" {
			b.log.Debug().Str("code", body.Code).Str("message", body.Message).Msg("peer reported error")
			return
		}
		b.mu.Lock()
		p := b.pending[body.InReplyTo]
		b.mu.Unlock()
		if p == nil {
			return
		}
		b.settle(body.InReplyTo, result{err: &RemoteError{Op: p.op, Code: body.Code, Message: body.Message}})
	case protocol.HandshakeAck, protocol.Event:
		// handled by Handshake's own subscription and by event subscribers
	default:
		b.log.Trace().Str("kind", string(env.Kind())).Msg("ignoring unknown kind")
	}
}

func (b *Bridge) answerHandshake(hello protocol.Envelope) {
	if b.advertised == nil {
		return
	}
	if !protocol.Compatible(hello.ProtocolVersion) {
		b.log.Warn().Str("version", hello.ProtocolVersion).Msg("rejecting handshake from incompatible peer")
		b.transport.Send(protocol.NewError(b.role, hello.ID, CodeVersionMismatch,
			fmt.Sprintf("protocol version %s is not compatible with %s", hello.ProtocolVersion, protocol.ProtocolVersion)))
		return
	}
	b.transport.Send(protocol.NewHandshakeAck(b.role, *b.advertised))
}

// serve runs the handler for one inbound request and always sends exactly
// one response.
func (b *Bridge) serve(reqID string, req protocol.Request) {
	b.mu.Lock()
	h := b.handlers[req.Op]
	b.mu.Unlock()

	if h == nil {
		b.obs.RequestHandled(req.Op, OutcomeUnhandled)
		b.transport.Send(protocol.NewFailure(b.role, req.Op, reqID, unhandledPayload, ""))
		return
	}

	out, err := b.invoke(h, req.Payload)
	if err == nil {
		var raw json.RawMessage
		raw, err = encodePayload(out)
		if err == nil {
			b.obs.RequestHandled(req.Op, OutcomeOK)
			b.transport.Send(protocol.NewResponse(b.role, req.Op, reqID, raw))
			return
		}
		err = fmt.Errorf("encode result: %w", err)
	}
	b.obs.RequestHandled(req.Op, OutcomeFailed)
	b.log.Debug().Err(err).Str("op", req.Op).Msg("handler failed")
	b.transport.Send(protocol.NewFailure(b.role, req.Op, reqID, nil, errorMessage(err)))
}

func (b *Bridge) invoke(h HandlerFunc, payload json.RawMessage) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn().Interface("panic", r).Msg("request handler panicked")
			err = fmt.Errorf("%v", r)
		}
	}()
	return h(b.ctx, payload)
}

func resultOf(res protocol.Response) result {
	if res.Succeeded() {
		return result{payload: res.Payload}
	}
	re := &RequestError{Op: res.Op, Payload: res.Payload}
	if res.Error != nil {
		re.Message = res.Error.Message
	}
	return result{err: re}
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "error"
}

func encodePayload(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return x, nil
	default:
		return json.Marshal(x)
	}
}
