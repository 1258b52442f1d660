// ABOUTME: Structured, versioned message codec using protobuf's Struct well-known type
// ABOUTME: Converts between Messages and envelopes without ever inspecting foreign payloads

package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/agent-runtime/internal/envelope"
)

// CodecVersion is embedded in every encoded message.
const CodecVersion = 1

// ErrDecode is returned when a payload cannot be decoded as a Message.
var ErrDecode = errors.New("message decode failed")

// Encode serializes a message. Sender and To are not part of the payload.
func Encode(m *Message) ([]byte, error) {
	body, err := structpb.NewStruct(m.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		"version":      structpb.NewNumberValue(CodecVersion),
		"performative": structpb.NewStringValue(string(m.Performative)),
		"dialogue_reference": structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
			structpb.NewStringValue(m.DialogueReference[0]),
			structpb.NewStringValue(m.DialogueReference[1]),
		}}),
		"message_id": structpb.NewNumberValue(float64(m.MessageID)),
		"target":     structpb.NewNumberValue(float64(m.Target)),
		"body":       structpb.NewStructValue(body),
	}}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (*Message, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	f := s.GetFields()
	if v := int(f["version"].GetNumberValue()); v != CodecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDecode, v)
	}
	perf := f["performative"].GetStringValue()
	if perf == "" {
		return nil, fmt.Errorf("%w: missing performative", ErrDecode)
	}
	refs := f["dialogue_reference"].GetListValue().GetValues()
	if len(refs) != 2 {
		return nil, fmt.Errorf("%w: dialogue reference must have 2 parts, got %d", ErrDecode, len(refs))
	}

	m := &Message{
		Performative:      Performative(perf),
		DialogueReference: DialogueReference{refs[0].GetStringValue(), refs[1].GetStringValue()},
		MessageID:         int(f["message_id"].GetNumberValue()),
		Target:            int(f["target"].GetNumberValue()),
		Body:              f["body"].GetStructValue().AsMap(),
	}
	return m, nil
}

// ToEnvelope encodes m into an envelope addressed from m.Sender to m.To.
func ToEnvelope(protocolID string, m *Message) (*envelope.Envelope, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	env := envelope.New(m.To, m.Sender, protocolID, data)
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// FromEnvelope decodes the envelope payload and fills in the counterparty addresses.
func FromEnvelope(env *envelope.Envelope) (*Message, error) {
	m, err := Decode(env.Message())
	if err != nil {
		return nil, err
	}
	m.Sender = env.Sender()
	m.To = env.To()
	return m, nil
}
