// ABOUTME: Tests for envelope construction, the binary codec and frame splitting
// ABOUTME: Covers unknown fields, version checks and partially written records

package envelope

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEnvelope_PayloadIsCopied(t *testing.T) {
	payload := []byte("hello")
	env := New("bob", "alice", "fetchai/default:0.1.0", payload)

	payload[0] = 'j'
	assert.Equal(t, []byte("hello"), env.Message())

	out := env.Message()
	out[0] = 'x'
	assert.Equal(t, []byte("hello"), env.Message())
}

func TestEnvelope_Validate(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{"nil", nil},
		{"missing to", New("", "alice", "p", nil)},
		{"missing sender", New("bob", "", "p", nil)},
		{"missing protocol", New("bob", "alice", "", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.env.Validate(), ErrInvalidEnvelope)
		})
	}
}

func TestEnvelope_WithConnection(t *testing.T) {
	env := New("bob", "alice", "p", []byte("x"))
	routed := env.WithConnection("stub")

	assert.Equal(t, "", env.ConnectionID())
	assert.Equal(t, "stub", routed.ConnectionID())
	assert.Equal(t, env.Message(), routed.Message())
}

func TestCodec_RoundTrip(t *testing.T) {
	env := NewWithContext("bob", "alice", "fetchai/default:0.1.0", []byte{0, 1, 2, 255},
		Context{ConnectionID: "fetchai/stub:0.1.0", URI: "file:///tmp/ns"})

	data, err := Encode(env)
	require.NoError(t, err)
	assert.Equal(t, CodecVersion, data[0])

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, env.Equal(got), "decoded %v, want %v", got, env)
}

func TestCodec_EmptyPayload(t *testing.T) {
	data, err := Encode(New("bob", "alice", "p", nil))
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Size())
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	data, err := Encode(New("bob", "alice", "p", []byte("m")))
	require.NoError(t, err)

	data = protowire.AppendTag(data, 42, protowire.VarintType)
	data = protowire.AppendVarint(data, 7)
	data = protowire.AppendTag(data, 43, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.To())
	assert.Equal(t, []byte("m"), got.Message())
}

func TestCodec_RejectsBadInput(t *testing.T) {
	good, err := Encode(New("bob", "alice", "p", []byte("m")))
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("unknown version", func(t *testing.T) {
		bad := append([]byte{9}, good[1:]...)
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := Decode(good[:len(good)-1])
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("missing fields", func(t *testing.T) {
		_, err := Decode([]byte{CodecVersion})
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestFrames_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	first := New("bob", "alice", "p", []byte("one"))
	second := New("alice", "bob", "p", []byte("two"))
	require.NoError(t, WriteFrame(&buf, first))
	require.NoError(t, WriteFrame(&buf, second))

	r := bytes.NewReader(buf.Bytes())
	got, err := ReadFrame(r)
	require.NoError(t, err)
	assert.True(t, first.Equal(got))

	got, err = ReadFrame(r)
	require.NoError(t, err)
	assert.True(t, second.Equal(got))

	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrames_ReadTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, New("bob", "alice", "p", []byte("payload"))))

	_, err := ReadFrame(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestSplitFrames_PartialTail(t *testing.T) {
	var buf []byte
	var err error
	for _, body := range []string{"a", "b", "c"} {
		buf, err = AppendFrame(buf, New("bob", "alice", "p", []byte(body)))
		require.NoError(t, err)
	}
	full := len(buf)

	// Cut the last record in half: only two envelopes may come out.
	cut := full - 3
	envs, consumed, err := SplitFrames(buf[:cut])
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, []byte("a"), envs[0].Message())
	assert.Equal(t, []byte("b"), envs[1].Message())

	envs, n, err := SplitFrames(buf[consumed:])
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, []byte("c"), envs[0].Message())
	assert.Equal(t, full, consumed+n)
}

func TestSplitFrames_SkipsUndecodableRecord(t *testing.T) {
	buf := protowire.AppendBytes(nil, []byte{9, 9, 9})
	buf, err := AppendFrame(buf, New("bob", "alice", "p", []byte("ok")))
	require.NoError(t, err)

	envs, consumed, err := SplitFrames(buf)
	assert.Error(t, err)
	assert.Empty(t, envs)
	assert.Equal(t, 4, consumed)

	envs, _, err = SplitFrames(buf[consumed:])
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, []byte("ok"), envs[0].Message())
}
