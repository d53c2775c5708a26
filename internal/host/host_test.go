package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/sidecar/internal/bridge"
	"github.com/gaspardpetit/sidecar/internal/component"
	"github.com/gaspardpetit/sidecar/internal/config"
	"github.com/gaspardpetit/sidecar/internal/docstore"
	"github.com/gaspardpetit/sidecar/internal/ops"
	"github.com/gaspardpetit/sidecar/internal/protocol"
	"github.com/gaspardpetit/sidecar/internal/transport/mem"
	"github.com/gaspardpetit/sidecar/internal/transport/redisbus"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	store, err := docstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	h := New(Options{ID: "test-host", Version: "1.2.3", Store: store, StorageModes: []string{"fs", "redis"}, Menubar: true})
	t.Cleanup(h.Close)
	return h
}

func TestCapabilities(t *testing.T) {
	h := newTestHost(t)
	caps := h.Capabilities()
	if !caps.Valid() || caps.Host.ID != "test-host" || caps.Host.Version != "1.2.3" {
		t.Fatalf("caps = %+v", caps)
	}
	for _, op := range []string{ops.DocLoad, ops.DocSave, ops.DocSaveSVG, ops.UISetMenubar, ops.UISetPropertyPanel} {
		if !caps.Supports(op) {
			t.Errorf("missing operation %s", op)
		}
	}
	st := caps.Features.Storage
	if st == nil || st.Default != "fs" || len(st.Modes) != 2 {
		t.Fatalf("storage = %+v", st)
	}
	if ui := caps.Features.UI; ui == nil || !ui.Menubar || ui.PropertyPanel {
		t.Fatalf("ui = %+v", ui)
	}
}

func TestHandshakeAndUnknownOp(t *testing.T) {
	h := newTestHost(t)
	a, b := mem.Pair()
	h.Attach(b)
	br := bridge.New(a, protocol.RoleComponent)
	defer br.Dispose()

	caps := br.Handshake(context.Background(), time.Second)
	if caps == nil || caps.Host.ID != "test-host" {
		t.Fatalf("caps = %+v", caps)
	}
	_, err := br.Request(context.Background(), "doc.rename", nil, time.Second)
	var re *bridge.RequestError
	if !errors.As(err, &re) || string(re.Payload) != `{"ok":false}` {
		t.Fatalf("err = %v", err)
	}
}

func TestCommandsWithoutSessions(t *testing.T) {
	h := newTestHost(t)
	if err := h.SetMenubar(context.Background(), false); !errors.Is(err, ErrNoSessions) {
		t.Fatalf("err = %v, want ErrNoSessions", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestHost(t)
	_, b := mem.Pair()
	s := h.Attach(b)
	if n := len(h.Sessions()); n != 1 {
		t.Fatalf("sessions = %d", n)
	}
	s.Close()
	s.Close()
	if n := len(h.Sessions()); n != 0 {
		t.Fatalf("sessions = %d after close", n)
	}
}

func TestRedisStoreAndTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	h := New(Options{Store: docstore.NewRedis(client, "")})
	defer h.Close()

	ctx := context.Background()
	hostSide, err := redisbus.New(ctx, client, "sidecar:test")
	if err != nil {
		t.Fatalf("host transport: %v", err)
	}
	h.Attach(hostSide)
	editorSide, err := redisbus.New(ctx, client, "sidecar:test")
	if err != nil {
		t.Fatalf("editor transport: %v", err)
	}
	c := component.New(editorSide, component.Options{HandshakeTimeout: time.Second})
	defer c.Close()

	caps := c.Start(ctx)
	if caps == nil {
		t.Fatalf("handshake over redis failed")
	}
	if caps.Features.Storage.Default != docstore.ModeRedis {
		t.Fatalf("storage = %+v", caps.Features.Storage)
	}
	res, err := c.Save(ctx, ops.SavePayload{XML: "<x/>"})
	if err != nil || !res.OK {
		t.Fatalf("save: %+v %v", res, err)
	}
	if got, _ := mr.Get("sidecar:doc:diagram.bpmn"); got != "<x/>" {
		t.Fatalf("stored = %q", got)
	}
}

func startServer(t *testing.T, h *Host) *httptest.Server {
	t.Helper()
	var cfg config.HostConfig
	cfg.SetDefaults()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	srv := httptest.NewServer(NewRouter(h, cfg, metrics))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv
}

func dialEditor(t *testing.T, srv *httptest.Server, opts component.Options) *component.Client {
	t.Helper()
	cfg := config.ComponentConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/sidecar"}
	cfg.SetDefaults()
	opts.HandshakeTimeout = 500 * time.Millisecond
	opts.Attempts = 5
	opts.RetryDelay = 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := component.Dial(ctx, cfg, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	if caps := c.Start(ctx); caps == nil {
		t.Fatalf("handshake over websocket failed")
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTPSurface(t *testing.T) {
	h := newTestHost(t)
	srv := startServer(t, h)

	resp, err := http.Get(srv.URL + "/api/capabilities")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var caps protocol.Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if caps.Host.ID != "test-host" {
		t.Fatalf("caps = %+v", caps)
	}

	resp, err = http.Get(srv.URL + "/api/document")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("document status = %d before any save", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/ui/menubar", "application/json", strings.NewReader(`{"visible":false}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("menubar status = %d without editors", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestWebSocketSession(t *testing.T) {
	h := newTestHost(t)
	srv := startServer(t, h)

	opened := make(chan ops.OpenExternalPayload, 1)
	c := dialEditor(t, srv, component.Options{
		UI: ops.UIState{Menubar: true, PropertyPanel: true},
		OnOpen: func(_ context.Context, doc ops.OpenExternalPayload) error {
			opened <- doc
			return nil
		},
	})
	ctx := context.Background()

	if _, err := c.Save(ctx, ops.SavePayload{XML: "hello world"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/document")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var info docstore.Info
	_ = json.NewDecoder(resp.Body).Decode(&info)
	_ = resp.Body.Close()
	if info.Name != "diagram.bpmn" || info.Size != 11 || info.Digest == "" {
		t.Fatalf("info = %+v", info)
	}

	resp, err = http.Post(srv.URL+"/api/ui/property-panel", "application/json", strings.NewReader(`{"visible":false}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("property panel status = %d", resp.StatusCode)
	}
	if c.UIState().PropertyPanel {
		t.Fatalf("editor still shows the property panel")
	}
	waitFor(t, "ui.state to reach the host", func() bool {
		ss := h.Sessions()
		return len(ss) == 1 && ss[0].State().UI != nil && !ss[0].State().UI.PropertyPanel
	})

	resp, err = http.Post(srv.URL+"/api/document/open", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("open status = %d", resp.StatusCode)
	}
	select {
	case doc := <-opened:
		if doc.XML != "hello world" {
			t.Fatalf("opened = %+v", doc)
		}
	case <-time.After(time.Second):
		t.Fatalf("document not pushed to the editor")
	}

	resp, err = http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var states []SessionState
	_ = json.NewDecoder(resp.Body).Decode(&states)
	_ = resp.Body.Close()
	if len(states) != 1 {
		t.Fatalf("sessions = %+v", states)
	}

	c.Close()
	waitFor(t, "session to detach", func() bool { return len(h.Sessions()) == 0 })
}

func TestDrainWaitsForDocumentWrites(t *testing.T) {
	release := make(chan struct{})
	store := &blockingStore{Store: mustFS(t), release: release}
	h := New(Options{Store: store})
	defer h.Close()
	a, b := mem.Pair()
	h.Attach(b)
	br := bridge.New(a, protocol.RoleComponent)
	defer br.Dispose()

	saved := make(chan error, 1)
	go func() {
		_, err := br.Request(context.Background(), ops.DocSave, ops.SavePayload{XML: "<a/>"}, time.Second)
		saved <- err
	}()
	waitFor(t, "save to start", func() bool { return h.InFlight() == 1 })

	if h.Drain(context.Background(), 20*time.Millisecond) {
		t.Fatalf("drain finished while a save was blocked")
	}
	if !h.Draining() {
		t.Fatalf("host not marked draining")
	}
	close(release)
	if !h.Drain(context.Background(), time.Second) {
		t.Fatalf("drain did not finish after the save completed")
	}
	if err := <-saved; err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestDrainingHostRefusesEditors(t *testing.T) {
	h := newTestHost(t)
	srv := startServer(t, h)
	h.Drain(context.Background(), 0)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz status = %d while draining", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/sidecar")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("websocket status = %d while draining", resp.StatusCode)
	}
}

type blockingStore struct {
	docstore.Store
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	<-s.release
	return s.Store.Save(ctx, name, data)
}

func mustFS(t *testing.T) *docstore.FS {
	t.Helper()
	fs, err := docstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return fs
}
