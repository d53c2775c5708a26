package host

import (
	"context"
	"time"
)

// Draining reports whether the host has stopped accepting editors.
func (h *Host) Draining() bool { return h.draining.Load() }

// InFlight returns the number of document operations being served.
func (h *Host) InFlight() int64 { return h.work.Load() }

// Drain stops accepting new editors and waits up to timeout for document
// operations in progress to finish. A negative timeout waits until ctx is
// done. It reports whether everything finished.
func (h *Host) Drain(ctx context.Context, timeout time.Duration) bool {
	if !h.draining.Swap(true) {
		h.log.Info().Int64("inflight", h.work.Load()).Msg("draining")
	}
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ok := h.work.Wait(ctx)
	if !ok {
		h.log.Warn().Int64("inflight", h.work.Load()).Msg("drain timeout exceeded")
	}
	return ok
}

// tracked counts fn as in-flight work for Drain.
func tracked[Req, Res any](h *Host, fn func(context.Context, Req) (Res, error)) func(context.Context, Req) (Res, error) {
	return func(ctx context.Context, req Req) (Res, error) {
		end := h.work.Begin()
		defer end()
		return fn(ctx, req)
	}
}
