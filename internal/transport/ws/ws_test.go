package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/sidecar/internal/protocol"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialAcceptRoundTrip(t *testing.T) {
	accepted := make(chan *Transport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- tr
		<-tr.Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	host := <-accepted

	got := make(chan protocol.Envelope, 1)
	host.OnMessage(func(env protocol.Envelope) { got <- env })

	sent := protocol.NewRequest(protocol.RoleComponent, "doc.save", json.RawMessage(`{"xml":"<a/>"}`))
	client.Send(sent)

	select {
	case env := <-got:
		if env.ID != sent.ID || env.Sender != protocol.RoleComponent {
			t.Fatalf("got %+v, want %+v", env, sent)
		}
		if req := env.Body.(protocol.Request); req.Op != "doc.save" {
			t.Fatalf("op = %q", req.Op)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for envelope")
	}

	_ = client.Close()
	select {
	case <-host.Done():
	case <-ctx.Done():
		t.Fatalf("host side did not observe close")
	}
}

func TestInboundNoiseIsDropped(t *testing.T) {
	valid := protocol.NewEvent(protocol.RoleHost, "ui.state", json.RawMessage(`{"menubar":true}`))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		// wait for the client to subscribe and announce itself
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		_ = c.Write(ctx, websocket.MessageText, []byte(`hello`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"heartbeat"}`))
		_ = c.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
		b, _ := json.Marshal(valid)
		_ = c.Write(ctx, websocket.MessageText, b)
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan protocol.Envelope, 4)
	client, err := Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	client.OnMessage(func(env protocol.Envelope) { got <- env })
	client.Send(protocol.NewHandshakeInit(protocol.RoleComponent))

	select {
	case env := <-got:
		if env.ID != valid.ID {
			t.Fatalf("first delivered envelope = %+v, want %s", env, valid.ID)
		}
	case <-ctx.Done():
		t.Fatalf("timed out")
	}
	select {
	case env := <-got:
		t.Fatalf("unexpected extra delivery: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	client.Send(protocol.NewHandshakeInit(protocol.RoleComponent))
	if len(client.send) != 0 {
		t.Fatalf("queued %d envelopes after close", len(client.send))
	}
}

func TestOptionsDefaults(t *testing.T) {
	var nilOpts *Options
	o := nilOpts.withDefaults()
	if len(o.OriginPatterns) != 1 || o.OriginPatterns[0] != "*" {
		t.Fatalf("origin patterns = %v", o.OriginPatterns)
	}
	if o.QueueSize != defaultQueueSize || o.ReadLimit != defaultReadLimit || o.PingInterval != defaultPingInterval {
		t.Fatalf("defaults = %+v", o)
	}
	custom := (&Options{OriginPatterns: []string{"localhost:*"}, PingInterval: -1}).withDefaults()
	if custom.OriginPatterns[0] != "localhost:*" || custom.PingInterval != -1 {
		t.Fatalf("custom = %+v", custom)
	}
}
