// ABOUTME: Dialogue tracks one two-party conversation and validates message sequencing
// ABOUTME: A rejected message never mutates the dialogue

package dialogue

import (
	"errors"
	"fmt"

	"github.com/2389/agent-runtime/internal/protocol"
)

// Validation errors. All of them wrap ErrInvalidMessage.
var (
	ErrInvalidMessage      = errors.New("invalid dialogue message")
	ErrUnidentified        = fmt.Errorf("%w: unidentified dialogue", ErrInvalidMessage)
	ErrDialogueEnded       = fmt.Errorf("%w: dialogue already ended", ErrInvalidMessage)
	ErrOutOfSequence       = fmt.Errorf("%w: out of sequence", ErrInvalidMessage)
	ErrInvalidReply        = fmt.Errorf("%w: performative is not a valid reply", ErrInvalidMessage)
	ErrUnknownPerformative = fmt.Errorf("%w: unknown performative", ErrInvalidMessage)
	ErrMissingAddress      = fmt.Errorf("%w: missing sender or recipient", ErrInvalidMessage)
)

// Role is the local agent's side of a dialogue.
type Role int

const (
	// RoleInitiator means the local agent sent the first message.
	RoleInitiator Role = iota
	// RoleResponder means the counterparty sent the first message.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Label uniquely identifies a dialogue.
type Label struct {
	Reference protocol.DialogueReference
	Opponent  string
	Starter   string
}

// incomplete returns the label as it was before the responder added its nonce.
func (l Label) incomplete() Label {
	return Label{
		Reference: protocol.DialogueReference{l.Reference[0], ""},
		Opponent:  l.Opponent,
		Starter:   l.Starter,
	}
}

func (l Label) String() string {
	return fmt.Sprintf("%s_%s_%s_%s", l.Reference[0], l.Reference[1], l.Opponent, l.Starter)
}

// Dialogue is the ordered record of one conversation.
type Dialogue struct {
	label    Label
	role     Role
	self     string
	spec     *protocol.Spec
	messages []*protocol.Message

	lastMessageID int
	lastTarget    int
	ended         bool
}

func newDialogue(label Label, self string, role Role, spec *protocol.Spec) *Dialogue {
	return &Dialogue{
		label:         label,
		role:          role,
		self:          self,
		spec:          spec,
		lastMessageID: protocol.StartingTarget,
	}
}

// Label returns the dialogue's current label.
func (d *Dialogue) Label() Label { return d.label }

// Role returns the local agent's role.
func (d *Dialogue) Role() Role { return d.role }

// IsSelfInitiated reports whether the local agent started the dialogue.
func (d *Dialogue) IsSelfInitiated() bool { return d.label.Starter == d.self }

// ProtocolID returns the id of the protocol the dialogue follows.
func (d *Dialogue) ProtocolID() string { return d.spec.ID }

// IsEnded reports whether a terminal performative has been accepted.
func (d *Dialogue) IsEnded() bool { return d.ended }

// LastMessageID returns the id of the last accepted message, 0 if none.
func (d *Dialogue) LastMessageID() int { return d.lastMessageID }

// LastTarget returns the target of the last accepted message.
func (d *Dialogue) LastTarget() int { return d.lastTarget }

// Len returns the number of accepted messages.
func (d *Dialogue) Len() int { return len(d.messages) }

// Messages returns the accepted messages in order.
func (d *Dialogue) Messages() []*protocol.Message {
	out := make([]*protocol.Message, len(d.messages))
	copy(out, d.messages)
	return out
}

// LastMessage returns the last accepted message, or nil.
func (d *Dialogue) LastMessage() *protocol.Message {
	if len(d.messages) == 0 {
		return nil
	}
	return d.messages[len(d.messages)-1]
}

// Reply builds the next outgoing message answering the last accepted one.
// It carries the dialogue's own reference, which is complete for dialogues
// the counterparty started.
func (d *Dialogue) Reply(performative protocol.Performative) *protocol.Message {
	m := protocol.New(performative, d.label.Reference, d.lastMessageID+1, d.lastMessageID)
	m.Sender = d.self
	m.To = d.label.Opponent
	return m
}

// Validate checks m against the sequencing invariant and the protocol rules
// without changing the dialogue.
func (d *Dialogue) Validate(m *protocol.Message) error {
	if d.ended {
		return ErrDialogueEnded
	}
	if !d.spec.Knows(m.Performative) {
		return fmt.Errorf("%w: %q", ErrUnknownPerformative, m.Performative)
	}
	if m.Target != d.lastMessageID || m.MessageID != d.lastMessageID+1 {
		return fmt.Errorf("%w: got id=%d target=%d, expected id=%d target=%d",
			ErrOutOfSequence, m.MessageID, m.Target, d.lastMessageID+1, d.lastMessageID)
	}
	if len(d.messages) == 0 {
		if !d.spec.IsInitial(m.Performative) {
			return fmt.Errorf("%w: %q cannot start a dialogue", ErrInvalidReply, m.Performative)
		}
		return nil
	}
	prev := d.LastMessage().Performative
	if !d.spec.IsValidReply(prev, m.Performative) {
		return fmt.Errorf("%w: %q after %q", ErrInvalidReply, m.Performative, prev)
	}
	return nil
}

// append records an already validated message.
func (d *Dialogue) append(m *protocol.Message) {
	d.messages = append(d.messages, m)
	d.lastMessageID = m.MessageID
	d.lastTarget = m.Target
	if d.spec.IsTerminal(m.Performative) {
		d.ended = true
	}
}
