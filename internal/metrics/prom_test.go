package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gaspardpetit/sidecar/internal/bridge"
)

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	SetBuildInfo("1.0.0", "abc", "2024-01-01")

	var o Observer
	o.RequestStarted("doc.save")
	o.RequestStarted("doc.load")
	o.RequestFinished("doc.save", bridge.OutcomeOK, 100*time.Millisecond)
	o.RequestHandled("ui.setMenubar", bridge.OutcomeUnhandled)
	o.EventEmitted("ui.state")
	o.HandshakeFinished(true)
	o.HandshakeFinished(false)

	if v := testutil.ToFloat64(requests.WithLabelValues("doc.save", "ok")); v != 1 {
		t.Fatalf("requests: %v", v)
	}
	if v := testutil.ToFloat64(requestsInflight); v != 1 {
		t.Fatalf("inflight: %v", v)
	}
	if v := testutil.ToFloat64(handled.WithLabelValues("ui.setMenubar", "unhandled")); v != 1 {
		t.Fatalf("handled: %v", v)
	}
	if v := testutil.ToFloat64(eventsEmitted.WithLabelValues("ui.state")); v != 1 {
		t.Fatalf("events: %v", v)
	}
	if v := testutil.ToFloat64(handshakes.WithLabelValues("standalone")); v != 1 {
		t.Fatalf("handshakes: %v", v)
	}
	if v := testutil.ToFloat64(buildInfo.WithLabelValues("2024-01-01", "abc", "1.0.0")); v != 1 {
		t.Fatalf("build info: %v", v)
	}
	if n := testutil.CollectAndCount(requestDuration); n != 1 {
		t.Fatalf("duration series: %d", n)
	}
}
