// ABOUTME: Inbox and Outbox, the queue interface agent code uses to exchange envelopes
// ABOUTME: Outbox.Put never blocks; Inbox.Get waits on a timer, never polls

package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/protocol"
)

// ErrOutboxFull is returned by Outbox.Put when the bounded outbound queue is full.
var ErrOutboxFull = errors.New("outbox full")

// Outbox enqueues envelopes for the multiplexer's dispatch task.
//
// The queue is bounded. Put never blocks: when the queue is full the
// envelope is dropped, logged, counted, and ErrOutboxFull is returned.
type Outbox struct {
	queue   chan<- *envelope.Envelope
	depth   func() int
	metrics Metrics
	logger  *slog.Logger
}

// Put enqueues env for sending.
func (o *Outbox) Put(env *envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case o.queue <- env:
		o.metrics.QueueDepth("outbox", o.depth())
		return nil
	default:
		o.metrics.EnvelopeDropped("outbox_full")
		o.logger.Warn("outbox full, dropping envelope",
			"to", env.To(),
			"protocol_id", env.ProtocolID(),
		)
		return fmt.Errorf("%w: envelope to %s", ErrOutboxFull, env.To())
	}
}

// PutMessage encodes m under protocolID and enqueues it.
func (o *Outbox) PutMessage(protocolID string, m *protocol.Message) error {
	env, err := protocol.ToEnvelope(protocolID, m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return o.Put(env)
}

// Len returns the number of envelopes waiting to be dispatched.
func (o *Outbox) Len() int { return o.depth() }

// Inbox hands envelopes received by the multiplexer to the agent.
type Inbox struct {
	queue <-chan *envelope.Envelope
}

// Empty reports whether no envelope is waiting.
func (i *Inbox) Empty() bool { return len(i.queue) == 0 }

// Len returns the number of waiting envelopes.
func (i *Inbox) Len() int { return len(i.queue) }

// GetNowait returns the next envelope if one is waiting.
func (i *Inbox) GetNowait() (*envelope.Envelope, bool) {
	select {
	case env := <-i.queue:
		return env, true
	default:
		return nil, false
	}
}

// Get waits up to timeout for the next envelope. A non-positive timeout
// behaves like GetNowait.
func (i *Inbox) Get(timeout time.Duration) (*envelope.Envelope, bool) {
	if timeout <= 0 {
		return i.GetNowait()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-i.queue:
		return env, true
	case <-timer.C:
		return nil, false
	}
}

// GetContext waits for the next envelope until ctx ends.
func (i *Inbox) GetContext(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case env := <-i.queue:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
