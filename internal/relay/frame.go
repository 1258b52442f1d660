// ABOUTME: Relay frame: the unit exchanged on a relay stream
// ABOUTME: Protobuf-wire encoded and carried inside a BytesValue message

package relay

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/agent-runtime/internal/envelope"
)

// FrameKind tags a relay frame.
type FrameKind int

const (
	// FrameRegister is the first frame a client sends, naming its address.
	FrameRegister FrameKind = iota + 1
	// FrameWelcome acknowledges registration.
	FrameWelcome
	// FrameEnvelope carries one envelope in either direction.
	FrameEnvelope
	// FrameError reports a failed frame back to its sender.
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameRegister:
		return "register"
	case FrameWelcome:
		return "welcome"
	case FrameEnvelope:
		return "envelope"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ErrBadFrame is returned when a frame cannot be decoded.
var ErrBadFrame = errors.New("malformed relay frame")

const (
	fieldKind     protowire.Number = 1
	fieldID       protowire.Number = 2
	fieldAddress  protowire.Number = 3
	fieldEnvelope protowire.Number = 4
	fieldError    protowire.Number = 5
)

// Frame is one relay message.
type Frame struct {
	Kind     FrameKind
	ID       string // unique per frame; the relay drops repeats
	Address  string // register/welcome: the client address
	Envelope *envelope.Envelope
	Error    string
}

// MarshalFrame encodes f.
func MarshalFrame(f *Frame) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	if f.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, f.ID)
	}
	if f.Address != "" {
		b = protowire.AppendTag(b, fieldAddress, protowire.BytesType)
		b = protowire.AppendString(b, f.Address)
	}
	if f.Envelope != nil {
		data, err := envelope.Encode(f.Envelope)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldEnvelope, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	if f.Error != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, f.Error)
	}
	return b, nil
}

// UnmarshalFrame decodes a frame, skipping unknown fields.
func UnmarshalFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: kind", ErrBadFrame)
			}
			f.Kind = FrameKind(v)
			n = m
		case typ == protowire.BytesType && (num == fieldID || num == fieldAddress || num == fieldError || num == fieldEnvelope):
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d", ErrBadFrame, num)
			}
			switch num {
			case fieldID:
				f.ID = string(v)
			case fieldAddress:
				f.Address = string(v)
			case fieldError:
				f.Error = string(v)
			case fieldEnvelope:
				env, err := envelope.Decode(v)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
				}
				f.Envelope = env
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d", ErrBadFrame, num)
			}
		}
		data = data[n:]
	}
	if f.Kind == 0 {
		return nil, fmt.Errorf("%w: missing kind", ErrBadFrame)
	}
	return f, nil
}

func toWire(f *Frame) (*wrapperspb.BytesValue, error) {
	data, err := MarshalFrame(f)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(data), nil
}

func fromWire(m *wrapperspb.BytesValue) (*Frame, error) {
	return UnmarshalFrame(m.GetValue())
}
