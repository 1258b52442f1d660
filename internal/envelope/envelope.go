// ABOUTME: Envelope is the addressed unit moved between the agent and its transports
// ABOUTME: Immutable once built; ownership passes from producer to consumer through queues

package envelope

import (
	"errors"
	"fmt"
)

// Address identifies an agent on a transport.
type Address = string

// ErrInvalidEnvelope is returned when an envelope misses a required field.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Context carries optional routing hints for an envelope.
type Context struct {
	// ConnectionID selects the outbound connection. Empty means the default connection.
	ConnectionID string
	// URI is a transport-specific locator, passed through untouched.
	URI string
}

// Envelope is the transport-agnostic wire shape every connection honours:
// destination, sender, protocol identifier and an opaque payload.
type Envelope struct {
	to         Address
	sender     Address
	protocolID string
	message    []byte
	context    Context
}

// New builds an envelope. The payload slice is copied so the caller may reuse it.
func New(to, sender Address, protocolID string, message []byte) *Envelope {
	return NewWithContext(to, sender, protocolID, message, Context{})
}

// NewWithContext builds an envelope carrying routing hints.
func NewWithContext(to, sender Address, protocolID string, message []byte, ctx Context) *Envelope {
	payload := make([]byte, len(message))
	copy(payload, message)
	return &Envelope{
		to:         to,
		sender:     sender,
		protocolID: protocolID,
		message:    payload,
		context:    ctx,
	}
}

// To returns the destination address.
func (e *Envelope) To() Address { return e.to }

// Sender returns the source address.
func (e *Envelope) Sender() Address { return e.sender }

// ProtocolID returns the protocol the payload is encoded with.
func (e *Envelope) ProtocolID() string { return e.protocolID }

// Context returns the routing hints.
func (e *Envelope) Context() Context { return e.context }

// ConnectionID is shorthand for Context().ConnectionID.
func (e *Envelope) ConnectionID() string { return e.context.ConnectionID }

// Message returns a copy of the opaque payload.
func (e *Envelope) Message() []byte {
	out := make([]byte, len(e.message))
	copy(out, e.message)
	return out
}

// Size returns the payload length without copying it.
func (e *Envelope) Size() int { return len(e.message) }

// WithConnection returns a copy of the envelope routed through connectionID.
func (e *Envelope) WithConnection(connectionID string) *Envelope {
	ctx := e.context
	ctx.ConnectionID = connectionID
	return &Envelope{
		to:         e.to,
		sender:     e.sender,
		protocolID: e.protocolID,
		message:    e.message,
		context:    ctx,
	}
}

// Validate checks the required addressing fields.
func (e *Envelope) Validate() error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	case e.to == "":
		return fmt.Errorf("%w: missing destination", ErrInvalidEnvelope)
	case e.sender == "":
		return fmt.Errorf("%w: missing sender", ErrInvalidEnvelope)
	case e.protocolID == "":
		return fmt.Errorf("%w: missing protocol id", ErrInvalidEnvelope)
	}
	return nil
}

// Equal reports whether two envelopes carry the same fields.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.to == o.to &&
		e.sender == o.sender &&
		e.protocolID == o.protocolID &&
		e.context == o.context &&
		string(e.message) == string(o.message)
}

func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope(to=%s, sender=%s, protocol_id=%s, size=%d)", e.to, e.sender, e.protocolID, len(e.message))
}
