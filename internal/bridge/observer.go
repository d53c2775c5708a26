package bridge

import "time"

// Outcome classifies how an outbound request or an inbound request ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeUnhandled Outcome = "unhandled"
	// OutcomeAbandoned covers callers that gave up through their context.
	OutcomeAbandoned Outcome = "abandoned"
)

// Observer receives protocol activity for instrumentation.
type Observer interface {
	RequestStarted(op string)
	RequestFinished(op string, outcome Outcome, elapsed time.Duration)
	RequestHandled(op string, outcome Outcome)
	EventEmitted(name string)
	HandshakeFinished(connected bool)
}

type nopObserver struct{}

func (nopObserver) RequestStarted(string)                          {}
func (nopObserver) RequestFinished(string, Outcome, time.Duration) {}
func (nopObserver) RequestHandled(string, Outcome)                 {}
func (nopObserver) EventEmitted(string)                            {}
func (nopObserver) HandshakeFinished(bool)                         {}
