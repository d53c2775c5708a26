// Package component is the editor side of the sidecar boundary. It finds a
// host, asks it for documents and hands them back, and lets the host drive
// the editor chrome.
package component

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/sidecar/internal/bridge"
	"github.com/gaspardpetit/sidecar/internal/config"
	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/ops"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
	"github.com/gaspardpetit/sidecar/internal/transport/ws"
)

// ErrStandalone is returned by document operations while no host is
// connected.
var ErrStandalone = errors.New("no host connected")

const defaultRetryDelay = time.Second

// OpenFunc receives documents pushed by the host.
type OpenFunc func(ctx context.Context, doc ops.OpenExternalPayload) error

// Options configures a Client.
type Options struct {
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	// Attempts bounds Start's handshake attempts; zero means one.
	Attempts int
	// RetryDelay separates handshake attempts.
	RetryDelay time.Duration
	// UI is the chrome visible before the host says otherwise.
	UI       ops.UIState
	OnOpen   OpenFunc
	Observer bridge.Observer
}

// Client wraps a component bridge.
type Client struct {
	bridge *bridge.Bridge
	opts   Options
	log    zerolog.Logger

	mu    sync.Mutex
	ui    ops.UIState
	dirty bool
}

// New attaches a client to t and registers the editor-side handlers.
func New(t transport.Transport, opts Options) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = bridge.DefaultHandshakeTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = bridge.DefaultRequestTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	var bopts []bridge.Option
	if opts.Observer != nil {
		bopts = append(bopts, bridge.WithObserver(opts.Observer))
	}
	c := &Client{
		bridge: bridge.New(t, protocol.RoleComponent, bopts...),
		opts:   opts,
		log:    logx.With("component"),
		ui:     opts.UI,
	}
	bridge.Handle(c.bridge, ops.UISetPropertyPanel, func(_ context.Context, p ops.VisibilityPayload) (ops.Ack, error) {
		c.SetPropertyPanel(p.Visible)
		return ops.Ack{OK: true}, nil
	})
	bridge.Handle(c.bridge, ops.UISetMenubar, func(_ context.Context, p ops.VisibilityPayload) (ops.Ack, error) {
		c.SetMenubar(p.Visible)
		return ops.Ack{OK: true}, nil
	})
	bridge.Handle(c.bridge, ops.DocOpenExternal, c.openExternal)
	return c
}

// Dial connects to the host WebSocket named by cfg.
func Dial(ctx context.Context, cfg config.ComponentConfig, opts Options) (*Client, error) {
	var hdr http.Header
	if cfg.Origin != "" {
		hdr = http.Header{"Origin": []string{cfg.Origin}}
	}
	t, err := ws.Dial(ctx, cfg.URL, &ws.Options{HTTPHeader: hdr})
	if err != nil {
		return nil, err
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = cfg.HandshakeTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = cfg.RequestTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = cfg.Attempts
	}
	return New(t, opts), nil
}

// Bridge exposes the underlying protocol engine.
func (c *Client) Bridge() *bridge.Bridge { return c.bridge }

// Start runs the handshake, retrying up to the configured number of
// attempts. It returns the host's capabilities, or nil when the editor
// should run standalone. On success the current UI state is announced.
func (c *Client) Start(ctx context.Context) *protocol.Capabilities {
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		c.log.Debug().Int("attempt", attempt).Msg("handshake")
		if caps := c.bridge.Handshake(ctx, c.opts.HandshakeTimeout); caps != nil {
			c.log.Info().Str("host", caps.Host.ID).Str("version", caps.Host.Version).Msg("host connected")
			c.emitUIState()
			return caps
		}
		if attempt == c.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.RetryDelay):
		}
	}
	c.log.Info().Msg("no host answered; running standalone")
	return nil
}

// Connected reports whether a host acknowledged the handshake.
func (c *Client) Connected() bool { return c.bridge.Connected() }

// Capabilities returns the connected host's capabilities, or nil.
func (c *Client) Capabilities() *protocol.Capabilities { return c.bridge.Capabilities() }

// Load asks the host for the document to edit.
func (c *Client) Load(ctx context.Context) (ops.LoadResult, error) {
	if !c.Connected() {
		return ops.LoadResult{}, ErrStandalone
	}
	raw, err := c.bridge.Request(ctx, ops.DocLoad, nil, c.opts.RequestTimeout)
	if err != nil {
		return ops.LoadResult{}, err
	}
	return ops.DecodeLoadResult(raw)
}

// Save hands the document to the host. A successful save clears the dirty
// flag.
func (c *Client) Save(ctx context.Context, p ops.SavePayload) (ops.SaveResult, error) {
	if !c.Connected() {
		return ops.SaveResult{}, ErrStandalone
	}
	res, err := bridge.Call[ops.SaveResult](ctx, c.bridge, ops.DocSave, p, c.opts.RequestTimeout)
	if err == nil && res.OK {
		c.MarkDirty(false)
	}
	return res, err
}

// SaveSVG hands a rendered image to the host.
func (c *Client) SaveSVG(ctx context.Context, p ops.SaveSVGPayload) (ops.SaveResult, error) {
	if !c.Connected() {
		return ops.SaveResult{}, ErrStandalone
	}
	return bridge.Call[ops.SaveResult](ctx, c.bridge, ops.DocSaveSVG, p, c.opts.RequestTimeout)
}

// MarkDirty records whether the document has unsaved changes and tells a
// connected host when that changes.
func (c *Client) MarkDirty(dirty bool) {
	c.mu.Lock()
	changed := c.dirty != dirty
	c.dirty = dirty
	c.mu.Unlock()
	if changed && c.Connected() {
		c.bridge.EmitEvent(ops.EventDocChanged, ops.DocChanged{Dirty: dirty})
	}
}

// Dirty reports the last value given to MarkDirty.
func (c *Client) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// UIState returns the current chrome visibility.
func (c *Client) UIState() ops.UIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ui
}

// SetPropertyPanel shows or hides the property panel and announces the
// new state.
func (c *Client) SetPropertyPanel(visible bool) {
	c.mu.Lock()
	c.ui.PropertyPanel = visible
	c.mu.Unlock()
	c.emitUIState()
}

// SetMenubar shows or hides the menubar and announces the new state.
func (c *Client) SetMenubar(visible bool) {
	c.mu.Lock()
	c.ui.Menubar = visible
	c.mu.Unlock()
	c.emitUIState()
}

func (c *Client) emitUIState() {
	c.bridge.EmitEvent(ops.EventUIState, c.UIState())
}

func (c *Client) openExternal(ctx context.Context, p ops.OpenExternalPayload) (ops.Ack, error) {
	if err := p.Validate(); err != nil {
		return ops.Ack{OK: false}, nil
	}
	if c.opts.OnOpen == nil {
		return ops.Ack{OK: false, Error: "editor cannot open documents"}, nil
	}
	if err := c.opts.OnOpen(ctx, p); err != nil {
		c.log.Debug().Err(err).Str("file", p.FileName).Msg("open external failed")
		return ops.Ack{OK: false, Error: err.Error()}, nil
	}
	c.MarkDirty(false)
	return ops.Ack{OK: true}, nil
}

// Close disposes the bridge and closes the transport.
func (c *Client) Close() { c.bridge.Dispose() }
