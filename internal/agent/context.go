// ABOUTME: Context is what handlers and behaviours see of their agent
// ABOUTME: Sends messages through the outbox, keeps dialogues current and off-loads blocking work

package agent

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/mux"
	"github.com/2389/agent-runtime/internal/pool"
	"github.com/2389/agent-runtime/internal/protocol"
)

// Context gives skill code access to the agent's identity, outbox, worker
// pool and dialogue registries. It is only used from the agent loop.
type Context struct {
	name      string
	address   string
	outbox    *mux.Outbox
	pool      *pool.Pool
	dialogues map[string]*dialogue.Dialogues
	observer  dialogue.Observer
	logger    *slog.Logger
}

func newContext(name, address string, outbox *mux.Outbox, p *pool.Pool, logger *slog.Logger) *Context {
	return &Context{
		name:      name,
		address:   address,
		outbox:    outbox,
		pool:      p,
		dialogues: make(map[string]*dialogue.Dialogues),
		logger:    logger,
	}
}

// Name returns the agent name.
func (c *Context) Name() string { return c.name }

// Address returns the agent address.
func (c *Context) Address() string { return c.address }

// Logger returns the agent logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Outbox returns the outbox for raw envelopes.
func (c *Context) Outbox() *mux.Outbox { return c.outbox }

// Dialogues returns the registry kept for protocolID, if any.
func (c *Context) Dialogues(protocolID string) (*dialogue.Dialogues, bool) {
	d, ok := c.dialogues[protocolID]
	return d, ok
}

// Submit runs task on the worker pool. callback runs on the agent loop
// during a later tick.
func (c *Context) Submit(task pool.Task, callback pool.Callback) error {
	return c.pool.Submit(task, callback)
}

// Send encodes m and puts it in the outbox. An empty m.Sender is filled with
// the agent address. When a dialogue registry exists for protocolID the
// message must be a valid next move in its dialogue and is recorded there.
func (c *Context) Send(protocolID string, m *protocol.Message) error {
	return c.SendVia("", protocolID, m)
}

// SendVia is Send with the envelope routed through connectionID. An empty
// connectionID means the multiplexer's default connection.
//
// The dialogue only records m once the envelope is in the outbox, so a full
// outbox or an encoding failure leaves the dialogue unchanged.
func (c *Context) SendVia(connectionID, protocolID string, m *protocol.Message) error {
	if m.Sender == "" {
		m.Sender = c.address
	}
	d, tracked := c.dialogues[protocolID]
	if tracked {
		if err := d.Validate(m); err != nil {
			return fmt.Errorf("outgoing %s message: %w", protocolID, err)
		}
	}
	env, err := protocol.ToEnvelope(protocolID, m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if connectionID != "" {
		env = env.WithConnection(connectionID)
	}
	if err := c.outbox.Put(env); err != nil {
		return err
	}
	if tracked {
		if _, err := d.Update(m); err != nil {
			return fmt.Errorf("recording outgoing %s message: %w", protocolID, err)
		}
	}
	return nil
}

// SendError replies to the sender of env with a default-protocol error,
// through the connection env arrived on. The offending envelope travels in the error data. Undecodable or
// unsupported default-protocol envelopes are not answered, otherwise two
// agents could bounce errors at each other forever.
func (c *Context) SendError(env *envelope.Envelope, code protocol.ErrorCode, text string) error {
	if env.ProtocolID() == protocol.DefaultProtocolID && code != protocol.ErrorCodeInvalidDialogue {
		c.logger.Warn("not answering default protocol envelope with an error",
			"sender", env.Sender(),
			"error_code", code,
			"error", text,
		)
		return nil
	}

	var data map[string][]byte
	if raw, err := envelope.Encode(env); err == nil {
		data = map[string][]byte{"envelope": raw}
	}
	ref := protocol.DialogueReference{uuid.NewString(), ""}
	if d, ok := c.dialogues[protocol.DefaultProtocolID]; ok {
		ref = d.NewSelfInitiatedDialogueReference()
	}
	reply := protocol.NewErrorMessage(ref, code, text, data)
	reply.To = env.Sender()
	return c.SendVia(env.ConnectionID(), protocol.DefaultProtocolID, reply)
}
