// ABOUTME: Versioned binary codec for envelopes built on protobuf wire primitives
// ABOUTME: Also provides uvarint length-delimited framing for append-only streams

package envelope

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// CodecVersion is written as the first byte of every encoded envelope.
const CodecVersion byte = 1

// MaxFrameSize bounds a single framed envelope.
const MaxFrameSize = 16 << 20

// Codec errors
var (
	ErrUnsupportedVersion = errors.New("unsupported envelope codec version")
	ErrMalformed          = errors.New("malformed envelope encoding")
	ErrFrameTooLarge      = errors.New("envelope frame too large")
)

const (
	fieldTo           protowire.Number = 1
	fieldSender       protowire.Number = 2
	fieldProtocolID   protowire.Number = 3
	fieldMessage      protowire.Number = 4
	fieldConnectionID protowire.Number = 5
	fieldURI          protowire.Number = 6
)

// Encode serializes an envelope. The payload is written verbatim and never inspected.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, 0, 32+len(e.to)+len(e.sender)+len(e.protocolID)+len(e.message))
	b = append(b, CodecVersion)
	b = appendString(b, fieldTo, e.to)
	b = appendString(b, fieldSender, e.sender)
	b = appendString(b, fieldProtocolID, e.protocolID)
	b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
	b = protowire.AppendBytes(b, e.message)
	if e.context.ConnectionID != "" {
		b = appendString(b, fieldConnectionID, e.context.ConnectionID)
	}
	if e.context.URI != "" {
		b = appendString(b, fieldURI, e.context.URI)
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// Decode parses bytes produced by Encode. Unknown fields are skipped.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if data[0] != CodecVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	b := data[1:]
	e := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldTo:
			e.to = string(v)
		case fieldSender:
			e.sender = string(v)
		case fieldProtocolID:
			e.protocolID = string(v)
		case fieldMessage:
			e.message = append([]byte(nil), v...)
		case fieldConnectionID:
			e.context.ConnectionID = string(v)
		case fieldURI:
			e.context.URI = string(v)
		}
	}
	if e.message == nil {
		e.message = []byte{}
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}

// AppendFrame appends the length-delimited encoding of e to b.
func AppendFrame(b []byte, e *Envelope) ([]byte, error) {
	data, err := Encode(e)
	if err != nil {
		return b, err
	}
	return protowire.AppendBytes(b, data), nil
}

// WriteFrame writes one length-delimited envelope with a single Write call,
// so an O_APPEND writer never interleaves partial records.
func WriteFrame(w io.Writer, e *Envelope) error {
	frame, err := AppendFrame(nil, e)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one length-delimited envelope. It returns io.EOF only at a
// clean record boundary; a record cut short yields io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (*Envelope, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
		r = br.(io.Reader)
	}
	length, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Decode(data)
}

// SplitFrames decodes every complete frame at the start of buf and reports how
// many bytes were consumed. A trailing partial frame is left for the next call.
// When a complete frame fails to decode, consumed already covers it.
func SplitFrames(buf []byte) ([]*Envelope, int, error) {
	var (
		out      []*Envelope
		consumed int
	)
	for consumed < len(buf) {
		rest := buf[consumed:]
		length, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			if len(rest) < binary.MaxVarintLen64 {
				break
			}
			return out, consumed, fmt.Errorf("%w: bad frame length", ErrMalformed)
		}
		if length > MaxFrameSize {
			return out, consumed, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
		}
		if uint64(len(rest)-n) < length {
			break
		}
		e, err := Decode(rest[n : n+int(length)])
		consumed += n + int(length)
		if err != nil {
			// The bad record is skipped; the caller decides whether to keep reading.
			return out, consumed, err
		}
		out = append(out, e)
	}
	return out, consumed, nil
}
