package component

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gaspardpetit/sidecar/internal/docstore"
	"github.com/gaspardpetit/sidecar/internal/host"
	"github.com/gaspardpetit/sidecar/internal/ops"
	"github.com/gaspardpetit/sidecar/internal/transport/mem"
)

func newHosted(t *testing.T, opts Options) (*Client, *host.Host, *host.Session) {
	t.Helper()
	store, err := docstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	h := host.New(host.Options{ID: "test-host", Store: store, Menubar: true, PropertyPanel: true})
	a, b := mem.Pair()
	s := h.Attach(b)
	c := New(a, opts)
	t.Cleanup(func() {
		c.Close()
		h.Close()
	})
	if caps := c.Start(context.Background()); caps == nil {
		t.Fatalf("handshake failed")
	}
	return c, h, s
}

func TestStartStandalone(t *testing.T) {
	a, _ := mem.Pair()
	c := New(a, Options{HandshakeTimeout: 20 * time.Millisecond, Attempts: 3, RetryDelay: 5 * time.Millisecond})
	defer c.Close()

	start := time.Now()
	if caps := c.Start(context.Background()); caps != nil {
		t.Fatalf("caps = %+v, want nil", caps)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("gave up after %v, expected three attempts", elapsed)
	}
	if _, err := c.Load(context.Background()); !errors.Is(err, ErrStandalone) {
		t.Fatalf("load: err = %v, want ErrStandalone", err)
	}
	if _, err := c.Save(context.Background(), ops.SavePayload{XML: "<a/>"}); !errors.Is(err, ErrStandalone) {
		t.Fatalf("save: err = %v, want ErrStandalone", err)
	}
}

func TestLoadAndSave(t *testing.T) {
	c, h, s := newHosted(t, Options{})
	ctx := context.Background()

	if caps := c.Capabilities(); caps == nil || caps.Host.ID != "test-host" || !caps.Supports(ops.DocSaveSVG) {
		t.Fatalf("capabilities = %+v", caps)
	}

	doc, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.XML != host.StarterDiagram || doc.FileName != "diagram.bpmn" {
		t.Fatalf("load = %+v, want starter diagram", doc)
	}

	c.MarkDirty(true)
	if !s.State().Dirty {
		t.Fatalf("host did not see doc.changed")
	}

	res, err := c.Save(ctx, ops.SavePayload{XML: "<bpmn:definitions/>", DiagramType: ops.DiagramBPMN, FileName: "order.bpmn"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !res.OK || !strings.HasSuffix(res.Path, "order.bpmn") {
		t.Fatalf("save = %+v", res)
	}
	if c.Dirty() || s.State().Dirty {
		t.Fatalf("dirty flag not cleared after save")
	}
	if h.Document() != "order.bpmn" {
		t.Fatalf("host document = %q", h.Document())
	}

	doc, err = c.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if doc.XML != "<bpmn:definitions/>" || doc.FileName != "order.bpmn" {
		t.Fatalf("reload = %+v", doc)
	}

	svg, err := c.SaveSVG(ctx, ops.SaveSVGPayload{SVG: "<svg/>"})
	if err != nil {
		t.Fatalf("save svg: %v", err)
	}
	if !svg.OK || !strings.HasSuffix(svg.Path, "order.svg") {
		t.Fatalf("save svg = %+v", svg)
	}

	empty, err := c.Save(ctx, ops.SavePayload{XML: "  "})
	if err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if empty.OK {
		t.Fatalf("empty document accepted")
	}
}

func TestHostDrivesUI(t *testing.T) {
	c, h, s := newHosted(t, Options{UI: ops.UIState{PropertyPanel: true, Menubar: true}})
	ctx := context.Background()

	if ui := s.State().UI; ui == nil || !ui.Menubar || !ui.PropertyPanel {
		t.Fatalf("initial ui state not announced: %+v", ui)
	}
	if err := h.SetMenubar(ctx, false); err != nil {
		t.Fatalf("set menubar: %v", err)
	}
	if err := h.SetPropertyPanel(ctx, false); err != nil {
		t.Fatalf("set property panel: %v", err)
	}
	if got := c.UIState(); got.Menubar || got.PropertyPanel {
		t.Fatalf("client ui = %+v", got)
	}
	if ui := s.State().UI; ui == nil || ui.Menubar || ui.PropertyPanel {
		t.Fatalf("host view of ui = %+v", ui)
	}
}

func TestOpenExternal(t *testing.T) {
	opened := make(chan ops.OpenExternalPayload, 1)
	c, h, _ := newHosted(t, Options{OnOpen: func(_ context.Context, doc ops.OpenExternalPayload) error {
		opened <- doc
		return nil
	}})
	ctx := context.Background()
	c.MarkDirty(true)

	if err := h.OpenExternal(ctx, ops.OpenExternalPayload{}); !errors.Is(err, ops.ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
	if err := h.OpenExternal(ctx, ops.OpenExternalPayload{XML: "<a/>", FileName: "a.bpmn"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	select {
	case doc := <-opened:
		if doc.XML != "<a/>" || doc.FileName != "a.bpmn" {
			t.Fatalf("opened = %+v", doc)
		}
	default:
		t.Fatalf("editor did not receive the document")
	}
	if c.Dirty() {
		t.Fatalf("opening a document should reset the dirty flag")
	}
}

func TestOpenExternalRejected(t *testing.T) {
	_, h, _ := newHosted(t, Options{})
	err := h.OpenExternal(context.Background(), ops.OpenExternalPayload{JSON: `{"key":"evt"}`})
	if err == nil || !strings.Contains(err.Error(), "cannot open") {
		t.Fatalf("err = %v", err)
	}
}
