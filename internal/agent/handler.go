// ABOUTME: Handlers react to decoded messages of one protocol on the agent loop
// ABOUTME: DialogueHandler tracks dialogues and dispatches through a PerformativeTable

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/protocol"
)

// ErrUnhandledPerformative is returned by PerformativeTable.Dispatch when no
// function is registered for the message's performative.
var ErrUnhandledPerformative = errors.New("unhandled performative")

type inboundConnectionKey struct{}

// WithInboundConnection returns a context recording the connection the
// message being handled arrived on.
func WithInboundConnection(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, inboundConnectionKey{}, connectionID)
}

// InboundConnection returns the connection the message being handled arrived
// on, or "" outside a DialogueHandler dispatch.
func InboundConnection(ctx context.Context) string {
	id, _ := ctx.Value(inboundConnectionKey{}).(string)
	return id
}

// Handler reacts to messages of a single protocol.
type Handler interface {
	ProtocolID() string
	Handle(ctx context.Context, env *envelope.Envelope, m *protocol.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Protocol string
	Fn       func(ctx context.Context, env *envelope.Envelope, m *protocol.Message) error
}

// ProtocolID returns h.Protocol.
func (h HandlerFunc) ProtocolID() string { return h.Protocol }

// Handle calls h.Fn.
func (h HandlerFunc) Handle(ctx context.Context, env *envelope.Envelope, m *protocol.Message) error {
	return h.Fn(ctx, env, m)
}

// PerformativeFunc handles one performative within its dialogue.
type PerformativeFunc func(ctx context.Context, d *dialogue.Dialogue, m *protocol.Message) error

// PerformativeTable maps performatives to the functions handling them.
type PerformativeTable map[protocol.Performative]PerformativeFunc

// Dispatch calls the function registered for m.Performative.
func (t PerformativeTable) Dispatch(ctx context.Context, d *dialogue.Dialogue, m *protocol.Message) error {
	fn, ok := t[m.Performative]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledPerformative, m.Performative)
	}
	return fn(ctx, d, m)
}

// DialogueHandler records every incoming message in a dialogue registry
// before dispatching it. Messages that fit no dialogue are answered with an
// invalid_dialogue error; unhandled performatives are logged and dropped.
type DialogueHandler struct {
	spec      *protocol.Spec
	dialogues *dialogue.Dialogues
	table     PerformativeTable
	actx      *Context
	logger    *slog.Logger
}

// NewDialogueHandler creates a handler for spec and registers its dialogue
// registry with actx so that messages sent through actx are tracked too.
func NewDialogueHandler(actx *Context, spec *protocol.Spec, table PerformativeTable, opts ...dialogue.Option) *DialogueHandler {
	logger := actx.Logger().With("handler", spec.ID)
	base := []dialogue.Option{dialogue.WithLogger(actx.Logger())}
	if actx.observer != nil {
		base = append(base, dialogue.WithObserver(actx.observer))
	}
	opts = append(base, opts...)
	d := dialogue.New(actx.Address(), spec, opts...)
	actx.dialogues[spec.ID] = d
	return &DialogueHandler{
		spec:      spec,
		dialogues: d,
		table:     table,
		actx:      actx,
		logger:    logger,
	}
}

// ProtocolID returns the protocol this handler serves.
func (h *DialogueHandler) ProtocolID() string { return h.spec.ID }

// Dialogues returns the handler's dialogue registry.
func (h *DialogueHandler) Dialogues() *dialogue.Dialogues { return h.dialogues }

// Handle updates the dialogue for m and dispatches it.
func (h *DialogueHandler) Handle(ctx context.Context, env *envelope.Envelope, m *protocol.Message) error {
	d, err := h.dialogues.Update(m)
	if err != nil {
		h.logger.Warn("dropping message outside any valid dialogue",
			"sender", m.Sender,
			"performative", m.Performative,
			"dialogue_reference", m.DialogueReference.String(),
			"error", err,
		)
		if m.Performative == protocol.PerformativeError {
			return nil
		}
		return h.actx.SendError(env, protocol.ErrorCodeInvalidDialogue, err.Error())
	}

	err = h.table.Dispatch(WithInboundConnection(ctx, env.ConnectionID()), d, m)
	if errors.Is(err, ErrUnhandledPerformative) {
		h.logger.Warn("no handler for performative",
			"performative", m.Performative,
			"sender", m.Sender,
		)
		return nil
	}
	return err
}
