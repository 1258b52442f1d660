// ABOUTME: Connection is one transport endpoint: connect, disconnect, send and receive envelopes
// ABOUTME: Base carries the id, status flag and one-time scheduling-context binding

package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/2389/agent-runtime/internal/envelope"
)

// Connection errors
var (
	// ErrLoopRunning is returned when a connection is rebound while its loop runs.
	// It signals a wiring bug and must not be retried.
	ErrLoopRunning = errors.New("cannot set the loop while it is running")
	// ErrNotConnected is returned by Send on a disconnected connection.
	ErrNotConnected = errors.New("connection not connected")
	// ErrClosed is returned by Receive once the transport has been closed.
	ErrClosed = errors.New("connection closed")
)

// TransportError reports a failed transport operation on one connection.
type TransportError struct {
	ConnectionID string
	Op           string
	Err          error
}

// NewTransportError wraps err as a failure of op on connection id.
func NewTransportError(id, op string, err error) *TransportError {
	return &TransportError{ConnectionID: id, Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.ConnectionID, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Loop is the scheduling context that drives a connection's traffic.
type Loop interface {
	Running() bool
}

// Status is the connection's mutable connected flag. Safe for concurrent use.
type Status struct {
	connected atomic.Bool
}

// IsConnected reports whether the connection is up.
func (s *Status) IsConnected() bool { return s.connected.Load() }

// SetConnected updates the flag.
func (s *Status) SetConnected(v bool) { s.connected.Store(v) }

// Connection is a single transport endpoint.
//
// Connect is idempotent. Disconnect releases transport resources, is safe to
// call from a failure path and is idempotent. Send fails with ErrNotConnected
// (wrapped in a TransportError) when the connection is down. Receive blocks
// until an envelope arrives, the context ends, or the transport closes, in
// which case it returns ErrClosed; it never returns partially parsed data.
type Connection interface {
	ID() string
	Status() *Status
	SetLoop(loop Loop) error
	Loop() Loop
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, env *envelope.Envelope) error
	Receive(ctx context.Context) (*envelope.Envelope, error)
}

// Base implements ID, Status, SetLoop and Loop for concrete connections to embed.
type Base struct {
	id     string
	status Status

	mu   sync.Mutex
	loop Loop
}

// NewBase creates a Base for the connection with the given id.
func NewBase(id string) Base {
	return Base{id: id}
}

// ID returns the connection id.
func (b *Base) ID() string { return b.id }

// Status returns the connection status.
func (b *Base) Status() *Status { return &b.status }

// SetLoop binds the scheduling context. Binding while the current loop is
// running returns ErrLoopRunning.
func (b *Base) SetLoop(loop Loop) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loop != nil && b.loop.Running() {
		return fmt.Errorf("%w: connection %s", ErrLoopRunning, b.id)
	}
	b.loop = loop
	return nil
}

// Loop returns the bound scheduling context, or nil.
func (b *Base) Loop() Loop {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loop
}

// RequireConnected returns a TransportError for op when the connection is down.
func (b *Base) RequireConnected(op string) error {
	if !b.status.IsConnected() {
		return NewTransportError(b.id, op, ErrNotConnected)
	}
	return nil
}
