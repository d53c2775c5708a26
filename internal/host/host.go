// Package host implements a reference host: it serves documents to
// connected editors and drives their UI chrome.
package host

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/sidecar/internal/bridge"
	"github.com/gaspardpetit/sidecar/internal/docstore"
	"github.com/gaspardpetit/sidecar/internal/inflight"
	"github.com/gaspardpetit/sidecar/internal/logx"
	"github.com/gaspardpetit/sidecar/internal/ops"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

// ErrNoSessions is returned by commands issued while no editor is attached.
var ErrNoSessions = errors.New("no editor sessions")

// Options configures a Host.
type Options struct {
	ID      string
	Version string
	Store   docstore.Store
	// StorageModes lists every mode the deployment can serve; the store's
	// own mode is always included.
	StorageModes   []string
	Document       string
	PropertyPanel  bool
	Menubar        bool
	RequestTimeout time.Duration
	Observer       bridge.Observer
}

// Host owns the document store and every attached editor session.
type Host struct {
	opts Options
	caps protocol.Capabilities
	log  zerolog.Logger

	work     inflight.Counter
	draining atomic.Bool

	mu       sync.Mutex
	document string
	sessions map[string]*Session
}

// New returns a host serving opts.Store.
func New(opts Options) *Host {
	if opts.ID == "" {
		opts.ID = "sidecar-host"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Document == "" {
		opts.Document = "diagram.bpmn"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = bridge.DefaultRequestTimeout
	}
	h := &Host{
		opts:     opts,
		log:      logx.With("host"),
		document: opts.Document,
		sessions: map[string]*Session{},
	}
	h.caps = protocol.NewCapabilities(
		protocol.HostInfo{ID: opts.ID, Version: opts.Version},
		protocol.Features{
			Storage: h.storageFeature(),
			UI:      &protocol.UIFeature{PropertyPanel: opts.PropertyPanel, Menubar: opts.Menubar},
		},
		ops.HostOperations...,
	)
	return h
}

func (h *Host) storageFeature() *protocol.StorageFeature {
	if h.opts.Store == nil {
		return nil
	}
	mode := h.opts.Store.Mode()
	modes := []string{mode}
	for _, m := range h.opts.StorageModes {
		if m != mode {
			modes = append(modes, m)
		}
	}
	return &protocol.StorageFeature{Modes: modes, Default: mode}
}

// Capabilities returns what this host advertises in handshake:ack.
func (h *Host) Capabilities() protocol.Capabilities { return h.caps }

// Document returns the name doc.load currently serves.
func (h *Host) Document() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.document
}

// Attach starts a host bridge on t and registers it as a session. The
// session ends when Close is called on it or on the host.
func (h *Host) Attach(t transport.Transport) *Session {
	opts := []bridge.Option{bridge.WithCapabilities(h.caps)}
	if h.opts.Observer != nil {
		opts = append(opts, bridge.WithObserver(h.opts.Observer))
	}
	s := &Session{
		ID:      uuid.NewString(),
		Started: time.Now(),
		host:    h,
		bridge:  bridge.New(t, protocol.RoleHost, opts...),
	}
	s.log = h.log.With().Str("session", s.ID).Logger()
	h.register(s.bridge)
	s.track(t)

	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()
	s.log.Info().Int("sessions", n).Msg("editor attached")
	return s
}

func (h *Host) register(b *bridge.Bridge) {
	bridge.Handle(b, ops.DocLoad, tracked(h, h.load))
	bridge.Handle(b, ops.DocSave, tracked(h, h.save))
	bridge.Handle(b, ops.DocSaveSVG, tracked(h, h.saveSVG))
}

func (h *Host) load(ctx context.Context, _ struct{}) (ops.LoadResult, error) {
	name := h.Document()
	if h.opts.Store == nil {
		return ops.LoadResult{XML: StarterDiagram, FileName: name}, nil
	}
	data, err := h.opts.Store.Load(ctx, name)
	if errors.Is(err, docstore.ErrNotFound) || (err == nil && strings.TrimSpace(string(data)) == "") {
		return ops.LoadResult{XML: StarterDiagram, FileName: name}, nil
	}
	if err != nil {
		return ops.LoadResult{}, err
	}
	return ops.LoadResult{XML: string(data), FileName: name}, nil
}

func (h *Host) save(ctx context.Context, p ops.SavePayload) (ops.SaveResult, error) {
	if strings.TrimSpace(p.XML) == "" {
		return ops.SaveResult{OK: false, Error: ops.ErrEmptyDocument.Error()}, nil
	}
	if h.opts.Store == nil {
		return ops.SaveResult{OK: false, Error: "no storage configured"}, nil
	}
	name := h.Document()
	if n := docstore.CleanName(p.FileName); n != "" {
		name = n
	}
	loc, err := h.opts.Store.Save(ctx, name, []byte(p.XML))
	if err != nil {
		h.log.Error().Err(err).Str("document", name).Msg("save failed")
		return ops.SaveResult{OK: false, Error: err.Error()}, nil
	}
	h.mu.Lock()
	h.document = name
	h.mu.Unlock()
	h.log.Info().Str("document", name).Int("size", len(p.XML)).Str("type", p.DiagramType).Msg("document saved")
	return ops.SaveResult{OK: true, Path: loc}, nil
}

func (h *Host) saveSVG(ctx context.Context, p ops.SaveSVGPayload) (ops.SaveResult, error) {
	if strings.TrimSpace(p.SVG) == "" {
		return ops.SaveResult{OK: false, Error: ops.ErrEmptyDocument.Error()}, nil
	}
	if h.opts.Store == nil {
		return ops.SaveResult{OK: false, Error: "no storage configured"}, nil
	}
	name := docstore.CleanName(p.SuggestedName)
	if name == "" {
		doc := h.Document()
		name = strings.TrimSuffix(doc, path.Ext(doc)) + ".svg"
	}
	loc, err := h.opts.Store.Save(ctx, name, []byte(p.SVG))
	if err != nil {
		return ops.SaveResult{OK: false, Error: err.Error()}, nil
	}
	h.log.Info().Str("image", name).Int("size", len(p.SVG)).Msg("svg saved")
	return ops.SaveResult{OK: true, Path: loc}, nil
}

// Sessions returns the attached sessions ordered by start time.
func (h *Host) Sessions() []*Session {
	h.mu.Lock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (h *Host) detach(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()
	h.log.Info().Str("session", id).Int("sessions", n).Msg("editor detached")
}

// SetMenubar asks every attached editor to show or hide its menubar.
func (h *Host) SetMenubar(ctx context.Context, visible bool) error {
	return h.broadcast(ctx, ops.UISetMenubar, ops.VisibilityPayload{Visible: visible})
}

// SetPropertyPanel asks every attached editor to show or hide its property
// panel.
func (h *Host) SetPropertyPanel(ctx context.Context, visible bool) error {
	return h.broadcast(ctx, ops.UISetPropertyPanel, ops.VisibilityPayload{Visible: visible})
}

// OpenExternal pushes a document into every attached editor.
func (h *Host) OpenExternal(ctx context.Context, p ops.OpenExternalPayload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return h.broadcast(ctx, ops.DocOpenExternal, p)
}

func (h *Host) broadcast(ctx context.Context, op string, payload any) error {
	sessions := h.Sessions()
	if len(sessions) == 0 {
		return ErrNoSessions
	}
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			if err := s.command(ctx, op, payload); err != nil {
				errs[i] = fmt.Errorf("session %s: %w", s.ID, err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close ends every session.
func (h *Host) Close() {
	for _, s := range h.Sessions() {
		s.Close()
	}
}
