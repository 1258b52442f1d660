// ABOUTME: Message is the typed payload an envelope carries for a dialogue-based protocol
// ABOUTME: Holds the performative, dialogue reference, sequencing ids and performative-specific body

package protocol

import (
	"encoding/base64"
	"fmt"
)

// Performative is the conversational act a message carries.
type Performative string

// StartingMessageID is the id of the first message of every dialogue.
const StartingMessageID = 1

// StartingTarget is the target of the first message of every dialogue.
const StartingTarget = 0

// DialogueReference is the pair of opaque nonces identifying a conversation:
// the first is assigned by the initiator, the second by the responder.
type DialogueReference [2]string

// IsComplete reports whether both sides have contributed their nonce.
func (r DialogueReference) IsComplete() bool {
	return r[0] != "" && r[1] != ""
}

func (r DialogueReference) String() string {
	return fmt.Sprintf("(%s, %s)", r[0], r[1])
}

// Message is a single dialogue-protocol message.
// Sender and To are the counterparty addresses and travel on the envelope,
// not inside the encoded payload.
type Message struct {
	Performative      Performative
	DialogueReference DialogueReference
	MessageID         int
	Target            int
	Sender            string
	To                string
	Body              map[string]any
}

// New creates a message with an empty body.
func New(performative Performative, ref DialogueReference, messageID, target int) *Message {
	return &Message{
		Performative:      performative,
		DialogueReference: ref,
		MessageID:         messageID,
		Target:            target,
		Body:              make(map[string]any),
	}
}

// Set stores a performative-specific field and returns the message for chaining.
func (m *Message) Set(key string, value any) *Message {
	if m.Body == nil {
		m.Body = make(map[string]any)
	}
	m.Body[key] = value
	return m
}

// SetBytes stores raw bytes as base64 so they survive the structured codec.
func (m *Message) SetBytes(key string, value []byte) *Message {
	return m.Set(key, base64.StdEncoding.EncodeToString(value))
}

// Text returns a string field, or "" if absent.
func (m *Message) Text(key string) string {
	s, _ := m.Body[key].(string)
	return s
}

// Int returns an integer field. Numbers decode as float64, so both shapes are accepted.
func (m *Message) Int(key string) (int64, bool) {
	switch v := m.Body[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Bytes returns a field stored with SetBytes.
func (m *Message) Bytes(key string) ([]byte, error) {
	s, ok := m.Body[key].(string)
	if !ok {
		return nil, fmt.Errorf("field %q is not set", key)
	}
	return base64.StdEncoding.DecodeString(s)
}

// Reply builds the next message in the same dialogue, addressed back to the sender.
func (m *Message) Reply(performative Performative) *Message {
	r := New(performative, m.DialogueReference, m.MessageID+1, m.MessageID)
	r.To = m.Sender
	r.Sender = m.To
	return r
}

func (m *Message) GoString() string {
	return fmt.Sprintf("Message(performative=%s, ref=%s, id=%d, target=%d, sender=%s, to=%s)",
		m.Performative, m.DialogueReference, m.MessageID, m.Target, m.Sender, m.To)
}
