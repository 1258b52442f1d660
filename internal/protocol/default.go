// ABOUTME: The default protocol: raw bytes exchange plus the error performative
// ABOUTME: Used for protocol-level error replies (unidentified dialogue, undecodable message)

package protocol

import "encoding/base64"

// DefaultProtocolID identifies the default protocol.
const DefaultProtocolID = "fetchai/default:0.1.0"

// Default protocol performatives.
const (
	PerformativeBytes Performative = "bytes"
	PerformativeError Performative = "error"
)

// ErrorCode classifies a default-protocol error reply.
type ErrorCode string

// Error codes carried by error replies.
const (
	ErrorCodeUnsupportedProtocol ErrorCode = "unsupported_protocol"
	ErrorCodeDecodingError       ErrorCode = "decoding_error"
	ErrorCodeInvalidMessage      ErrorCode = "invalid_message"
	ErrorCodeUnsupportedSkill    ErrorCode = "unsupported_skill"
	ErrorCodeInvalidDialogue     ErrorCode = "invalid_dialogue"
)

// DefaultSpec is the conversation rules of the default protocol.
var DefaultSpec = NewSpec(
	DefaultProtocolID,
	[]Performative{PerformativeBytes, PerformativeError},
	[]Performative{PerformativeError},
	map[Performative][]Performative{
		PerformativeBytes: {PerformativeBytes, PerformativeError},
		PerformativeError: {},
	},
)

// NewBytesMessage builds a default-protocol bytes message.
func NewBytesMessage(ref DialogueReference, messageID, target int, content []byte) *Message {
	return New(PerformativeBytes, ref, messageID, target).SetBytes("content", content)
}

// NewErrorMessage builds a default-protocol error message. data may be nil.
func NewErrorMessage(ref DialogueReference, code ErrorCode, text string, data map[string][]byte) *Message {
	m := New(PerformativeError, ref, StartingMessageID, StartingTarget).
		Set("error_code", string(code)).
		Set("error_msg", text)
	if len(data) > 0 {
		fields := make(map[string]any, len(data))
		for k, v := range data {
			fields[k] = base64.StdEncoding.EncodeToString(v)
		}
		m.Set("error_data", fields)
	}
	return m
}

// ErrorCodeOf returns the error code of a default-protocol error message.
func ErrorCodeOf(m *Message) ErrorCode {
	return ErrorCode(m.Text("error_code"))
}
