// Package protocol defines the wire format shared by the embedded editor
// (component) and the shell embedding it (host).
//
// Every message is a JSON object carrying the protocol identifier, the
// protocol version, a kind discriminant and a unique id, followed by the
// fields specific to that kind.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	// ProtocolID identifies sidecar traffic on a shared channel.
	ProtocolID = "bpmn-sidecar"
	// ProtocolVersion is the semantic version spoken by this package.
	ProtocolVersion = "1.0.0"
)

// Kind is the envelope discriminant.
type Kind string

const (
	KindHandshakeInit Kind = "handshake:init"
	KindHandshakeAck  Kind = "handshake:ack"
	KindRequest       Kind = "req"
	KindResponse      Kind = "res"
	KindEvent         Kind = "event"
	KindError         Kind = "error"
)

// Body is the kind-specific part of an envelope. The set of bodies is closed;
// an envelope of an unrecognised kind carries an Unknown body.
type Body interface {
	Kind() Kind
	isBody()
}

// HandshakeInit opens capability negotiation. It has no fields.
type HandshakeInit struct{}

// HandshakeAck answers a HandshakeInit with the host's capabilities.
type HandshakeAck struct {
	Capabilities Capabilities
}

// Request asks the peer to run Op.
type Request struct {
	Op      string
	Payload json.RawMessage
}

// Response answers the Request whose id is InReplyTo.
type Response struct {
	Op        string
	InReplyTo string
	// OK is nil when the field was absent on the wire, which counts as success.
	OK      *bool
	Payload json.RawMessage
	Error   *ErrorInfo
}

// ErrorInfo is the failure detail attached to an unsuccessful Response.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Event is a one-way notification.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// ErrorMessage reports a protocol-level failure, optionally tied to a request.
type ErrorMessage struct {
	InReplyTo string
	Code      string
	Message   string
}

// Unknown is the body of a well-formed envelope whose kind this version
// does not understand.
type Unknown struct {
	Name Kind
}

func (HandshakeInit) Kind() Kind { return KindHandshakeInit }
func (HandshakeAck) Kind() Kind  { return KindHandshakeAck }
func (Request) Kind() Kind       { return KindRequest }
func (Response) Kind() Kind      { return KindResponse }
func (Event) Kind() Kind         { return KindEvent }
func (ErrorMessage) Kind() Kind  { return KindError }
func (u Unknown) Kind() Kind     { return u.Name }

func (HandshakeInit) isBody() {}
func (HandshakeAck) isBody()  {}
func (Request) isBody()       {}
func (Response) isBody()      {}
func (Event) isBody()         {}
func (ErrorMessage) isBody()  {}
func (Unknown) isBody()       {}

// Succeeded reports whether the response carries a result rather than a failure.
func (r Response) Succeeded() bool { return r.OK == nil || *r.OK }

// Envelope is one complete message exchanged between peers.
type Envelope struct {
	Protocol        string
	ProtocolVersion string
	ID              string
	// Sender is RoleNone when the peer did not tag the message.
	Sender Role
	Body   Body
}

// Kind returns the discriminant of the envelope's body.
func (e Envelope) Kind() Kind {
	if e.Body == nil {
		return ""
	}
	return e.Body.Kind()
}

// NewID returns a fresh message id.
func NewID() string { return uuid.NewString() }

func newEnvelope(sender Role, body Body) Envelope {
	return Envelope{
		Protocol:        ProtocolID,
		ProtocolVersion: ProtocolVersion,
		ID:              NewID(),
		Sender:          sender,
		Body:            body,
	}
}

// NewHandshakeInit builds a handshake:init envelope.
func NewHandshakeInit(sender Role) Envelope {
	return newEnvelope(sender, HandshakeInit{})
}

// NewHandshakeAck builds a handshake:ack envelope advertising caps.
func NewHandshakeAck(sender Role, caps Capabilities) Envelope {
	return newEnvelope(sender, HandshakeAck{Capabilities: caps})
}

// NewRequest builds a req envelope. payload may be nil.
func NewRequest(sender Role, op string, payload json.RawMessage) Envelope {
	return newEnvelope(sender, Request{Op: op, Payload: payload})
}

// NewResponse builds a successful res envelope answering inReplyTo.
func NewResponse(sender Role, op, inReplyTo string, payload json.RawMessage) Envelope {
	ok := true
	return newEnvelope(sender, Response{Op: op, InReplyTo: inReplyTo, OK: &ok, Payload: payload})
}

// NewFailure builds an unsuccessful res envelope. message may be empty, in
// which case no error object is attached.
func NewFailure(sender Role, op, inReplyTo string, payload json.RawMessage, message string) Envelope {
	ok := false
	res := Response{Op: op, InReplyTo: inReplyTo, OK: &ok, Payload: payload}
	if message != "" {
		res.Error = &ErrorInfo{Message: message}
	}
	return newEnvelope(sender, res)
}

// NewEvent builds an event envelope. payload may be nil.
func NewEvent(sender Role, name string, payload json.RawMessage) Envelope {
	return newEnvelope(sender, Event{Name: name, Payload: payload})
}

// NewError builds an error envelope.
func NewError(sender Role, inReplyTo, code, message string) Envelope {
	return newEnvelope(sender, ErrorMessage{InReplyTo: inReplyTo, Code: code, Message: message})
}
