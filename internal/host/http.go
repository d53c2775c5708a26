package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/gaspardpetit/sidecar/internal/config"
	"github.com/gaspardpetit/sidecar/internal/docstore"
	"github.com/gaspardpetit/sidecar/internal/ops"
	"github.com/gaspardpetit/sidecar/internal/transport/ws"
)

const maxBody = 16 << 20

// NewRouter constructs the HTTP handler for h. metrics is mounted at
// /metrics when non-nil.
func NewRouter(h *Host, cfg config.HostConfig, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	wsPath := cfg.WSPath
	if wsPath == "" {
		wsPath = "/sidecar"
	}
	r.Get(wsPath, h.serveWS(cfg.AllowedOrigins))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if h.Draining() {
			status, code = "draining", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "sessions": len(h.Sessions()), "inflight": h.InFlight()})
	})
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/capabilities", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, h.Capabilities())
		})
		ar.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			states := []SessionState{}
			for _, s := range h.Sessions() {
				states = append(states, s.State())
			}
			writeJSON(w, http.StatusOK, states)
		})
		ar.Get("/document", h.documentInfo)
		ar.Post("/document/open", h.openDocument)
		ar.Post("/ui/menubar", h.visibility(h.SetMenubar))
		ar.Post("/ui/property-panel", h.visibility(h.SetPropertyPanel))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

func (h *Host) serveWS(origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Draining() {
			writeError(w, http.StatusServiceUnavailable, "host is draining")
			return
		}
		t, err := ws.Accept(w, r, &ws.Options{OriginPatterns: originHosts(origins)})
		if err != nil {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
			return
		}
		s := h.Attach(t)
		<-t.Done()
		s.Close()
	}
}

// originHosts turns CORS origins into the host patterns the WebSocket
// origin check matches against.
func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (h *Host) documentInfo(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil {
		writeError(w, http.StatusNotFound, "no storage configured")
		return
	}
	info, err := h.opts.Store.Stat(r.Context(), h.Document())
	if errors.Is(err, docstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// openDocument pushes a document into attached editors. An empty body
// sends the current stored document.
func (h *Host) openDocument(w http.ResponseWriter, r *http.Request) {
	var p ops.OpenExternalPayload
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Validate() != nil {
		doc, err := h.load(r.Context(), struct{}{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		p = ops.OpenExternalPayload{XML: doc.XML, FileName: doc.FileName}
	}
	h.command(r.Context(), w, func(ctx context.Context) error { return h.OpenExternal(ctx, p) })
}

func (h *Host) visibility(set func(context.Context, bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p ops.VisibilityPayload
		if err := decodeBody(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.command(r.Context(), w, func(ctx context.Context) error { return set(ctx, p.Visible) })
	}
}

func (h *Host) command(ctx context.Context, w http.ResponseWriter, run func(context.Context) error) {
	err := run(ctx)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNoSessions):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
