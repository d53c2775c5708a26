package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalid marks a value that does not have the envelope shape.
	ErrInvalid = errors.New("invalid envelope")
	// ErrForeign marks an envelope-shaped value of another protocol.
	ErrForeign = errors.New("foreign protocol")
)

type wireMeta struct {
	Sender Role `json:"sender,omitempty"`
}

// wire is the flattened JSON form shared by every kind.
type wire struct {
	Protocol        string          `json:"protocol"`
	ProtocolVersion string          `json:"protocolVersion"`
	Kind            Kind            `json:"kind"`
	ID              string          `json:"id"`
	Meta            *wireMeta       `json:"meta,omitempty"`
	Capabilities    *Capabilities   `json:"capabilities,omitempty"`
	Op              string          `json:"op,omitempty"`
	Name            string          `json:"name,omitempty"`
	InReplyTo       string          `json:"inReplyTo,omitempty"`
	OK              *bool           `json:"ok,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Error           json.RawMessage `json:"error,omitempty"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
}

// MarshalJSON encodes the envelope in its flattened wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Body == nil {
		return nil, fmt.Errorf("%w: missing body", ErrInvalid)
	}
	w := wire{
		Protocol:        e.Protocol,
		ProtocolVersion: e.ProtocolVersion,
		Kind:            e.Body.Kind(),
		ID:              e.ID,
	}
	if e.Sender != RoleNone {
		w.Meta = &wireMeta{Sender: e.Sender}
	}
	switch b := e.Body.(type) {
	case HandshakeInit:
	case HandshakeAck:
		caps := b.Capabilities
		w.Capabilities = &caps
	case Request:
		w.Op = b.Op
		w.Payload = b.Payload
	case Response:
		w.Op = b.Op
		w.InReplyTo = b.InReplyTo
		w.OK = b.OK
		w.Payload = b.Payload
		if b.Error != nil {
			raw, err := json.Marshal(b.Error)
			if err != nil {
				return nil, err
			}
			w.Error = raw
		}
	case Event:
		w.Name = b.Name
		w.Payload = b.Payload
	case ErrorMessage:
		w.InReplyTo = b.InReplyTo
		w.Code = b.Code
		w.Message = b.Message
	case Unknown:
	}
	return json.Marshal(w)
}

// UnmarshalJSON applies the validity predicate and decodes the body selected
// by the kind discriminant.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var probe struct {
		Protocol any `json:"protocol"`
		Kind     any `json:"kind"`
		ID       any `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	proto, ok := probe.Protocol.(string)
	if !ok || proto != ProtocolID {
		return ErrForeign
	}
	if _, ok := probe.Kind.(string); !ok {
		return fmt.Errorf("%w: kind is not a string", ErrInvalid)
	}
	if _, ok := probe.ID.(string); !ok {
		return fmt.Errorf("%w: id is not a string", ErrInvalid)
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := Envelope{
		Protocol:        w.Protocol,
		ProtocolVersion: w.ProtocolVersion,
		ID:              w.ID,
	}
	if w.Meta != nil {
		out.Sender = w.Meta.Sender
	}
	switch w.Kind {
	case KindHandshakeInit:
		out.Body = HandshakeInit{}
	case KindHandshakeAck:
		var caps Capabilities
		if w.Capabilities != nil {
			caps = *w.Capabilities
		}
		out.Body = HandshakeAck{Capabilities: caps}
	case KindRequest:
		out.Body = Request{Op: w.Op, Payload: w.Payload}
	case KindResponse:
		out.Body = Response{
			Op:        w.Op,
			InReplyTo: w.InReplyTo,
			OK:        w.OK,
			Payload:   w.Payload,
			Error:     decodeErrorInfo(w.Error),
		}
	case KindEvent:
		out.Body = Event{Name: w.Name, Payload: w.Payload}
	case KindError:
		out.Body = ErrorMessage{InReplyTo: w.InReplyTo, Code: w.Code, Message: w.Message}
	default:
		out.Body = Unknown{Name: w.Kind}
	}
	*e = out
	return nil
}

// decodeErrorInfo accepts both {"message": "..."} and a bare string.
func decodeErrorInfo(raw json.RawMessage) *ErrorInfo {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var info ErrorInfo
	if err := json.Unmarshal(raw, &info); err == nil {
		return &info
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &ErrorInfo{Message: msg}
	}
	return &ErrorInfo{Message: string(raw)}
}

// Parse decodes one envelope from its JSON encoding.
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		if errors.Is(err, ErrForeign) || errors.Is(err, ErrInvalid) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return e, nil
}

// FromValue validates an arbitrary value observed on a channel and turns it
// into an Envelope. Envelope values are checked directly; anything else is
// round-tripped through JSON and parsed.
func FromValue(v any) (Envelope, error) {
	switch x := v.(type) {
	case nil:
		return Envelope{}, ErrInvalid
	case Envelope:
		return check(x)
	case *Envelope:
		if x == nil {
			return Envelope{}, ErrInvalid
		}
		return check(*x)
	case []byte:
		return Parse(x)
	case json.RawMessage:
		return Parse(x)
	case string:
		return Parse([]byte(x))
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return Parse(raw)
	}
}

func check(e Envelope) (Envelope, error) {
	if e.Protocol != ProtocolID {
		return Envelope{}, ErrForeign
	}
	if e.Body == nil {
		return Envelope{}, fmt.Errorf("%w: missing body", ErrInvalid)
	}
	return e, nil
}
