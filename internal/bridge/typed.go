package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handle registers a typed handler for op. The request payload is decoded
// into Req before fn runs; an empty payload leaves Req at its zero value.
func Handle[Req, Res any](b *Bridge, op string, fn func(ctx context.Context, req Req) (Res, error)) {
	b.OnRequest(op, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", op, err)
			}
		}
		return fn(ctx, req)
	})
}

// Call sends a request and decodes the response payload into Res.
func Call[Res any](ctx context.Context, b *Bridge, op string, payload any, timeout time.Duration) (Res, error) {
	var out Res
	raw, err := b.Request(ctx, op, payload, timeout)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("sidecar: %s: decode response: %w", op, err)
	}
	return out, nil
}
