package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/sidecar/internal/bridge"
	"github.com/gaspardpetit/sidecar/internal/ops"
	"github.com/gaspardpetit/sidecar/internal/transport"
)

// Session is one attached editor.
type Session struct {
	ID      string
	Started time.Time

	host   *Host
	bridge *bridge.Bridge
	log    zerolog.Logger

	mu    sync.Mutex
	state SessionState
	offs  []func()
	once  sync.Once
}

// SessionState is what the host has learned from an editor's events.
type SessionState struct {
	ID       string       `json:"id"`
	Started  time.Time    `json:"started"`
	UI       *ops.UIState `json:"ui,omitempty"`
	Dirty    bool         `json:"dirty"`
	LastSeen time.Time    `json:"lastSeen"`
}

// Bridge exposes the session's protocol engine.
func (s *Session) Bridge() *bridge.Bridge { return s.bridge }

// State returns a snapshot of the session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.ID = s.ID
	st.Started = s.Started
	if st.UI != nil {
		ui := *st.UI
		st.UI = &ui
	}
	return st
}

func (s *Session) track(t transport.Transport) {
	offUI := transport.Events(t, ops.EventUIState, func(raw json.RawMessage) {
		var ui ops.UIState
		if err := json.Unmarshal(raw, &ui); err != nil {
			s.log.Debug().Err(err).Msg("malformed ui.state")
			return
		}
		s.mu.Lock()
		s.state.UI = &ui
		s.state.LastSeen = time.Now()
		s.mu.Unlock()
		s.log.Debug().Bool("menubar", ui.Menubar).Bool("property_panel", ui.PropertyPanel).Msg("ui state")
	})
	offDoc := transport.Events(t, ops.EventDocChanged, func(raw json.RawMessage) {
		var dc ops.DocChanged
		if err := json.Unmarshal(raw, &dc); err != nil {
			s.log.Debug().Err(err).Msg("malformed doc.changed")
			return
		}
		s.mu.Lock()
		s.state.Dirty = dc.Dirty
		s.state.LastSeen = time.Now()
		s.mu.Unlock()
		s.log.Debug().Bool("dirty", dc.Dirty).Msg("document changed")
	})
	s.offs = append(s.offs, offUI, offDoc)
}

// command sends a host to editor request and checks its {ok} answer.
func (s *Session) command(ctx context.Context, op string, payload any) error {
	ack, err := bridge.Call[ops.Ack](ctx, s.bridge, op, payload, s.host.opts.RequestTimeout)
	if err != nil {
		return err
	}
	if !ack.OK {
		if ack.Error != "" {
			return fmt.Errorf("%s rejected: %s", op, ack.Error)
		}
		return fmt.Errorf("%s rejected", op)
	}
	return nil
}

// Close detaches the session and disposes its bridge, which closes the
// transport.
func (s *Session) Close() {
	s.once.Do(func() {
		for _, off := range s.offs {
			off()
		}
		s.bridge.Dispose()
		s.host.detach(s.ID)
	})
}
