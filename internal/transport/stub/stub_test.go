// ABOUTME: Tests for the file transport in namespace and direct mode
// ABOUTME: Covers delivery, partial frames, malformed records and cleanup

package stub

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
)

func receive(t *testing.T, c *Connection) *envelope.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	env, err := c.Receive(ctx)
	require.NoError(t, err)
	return env
}

func open(t *testing.T, opts Options) *Connection {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	c, err := New("stub-"+opts.Address, opts, nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func TestNew_RequiresFiles(t *testing.T) {
	_, err := New("s", Options{}, nil)
	assert.ErrorIs(t, err, connection.ErrBadConfig)

	_, err = New("s", Options{Namespace: t.TempDir(), Address: "../escape"}, nil)
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestNamespace_DeliversBetweenAgents(t *testing.T) {
	dir := t.TempDir()
	alice := open(t, Options{Namespace: dir, Address: "alice"})
	bob := open(t, Options{Namespace: dir, Address: "bob"})

	env := envelope.New("bob", "alice", "fetchai/default:0.1.0", []byte("hello"))
	require.NoError(t, alice.Send(t.Context(), env))

	got := receive(t, bob)
	assert.True(t, env.Equal(got))

	reply := envelope.New("alice", "bob", "fetchai/default:0.1.0", []byte("hi back"))
	require.NoError(t, bob.Send(t.Context(), reply))
	assert.True(t, reply.Equal(receive(t, alice)))
}

func TestNamespace_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	alice := open(t, Options{Namespace: dir, Address: "alice"})
	bob := open(t, Options{Namespace: dir, Address: "bob"})

	for i := 0; i < 10; i++ {
		require.NoError(t, alice.Send(t.Context(), envelope.New("bob", "alice", "p", []byte{byte(i)})))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, []byte{byte(i)}, receive(t, bob).Message())
	}
}

func TestNamespace_SendRejectsPathAddress(t *testing.T) {
	alice := open(t, Options{Namespace: t.TempDir(), Address: "alice"})
	err := alice.Send(t.Context(), envelope.New("../bob", "alice", "p", nil))
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestNamespace_DisconnectRemovesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ns")
	c, err := New("s", Options{Namespace: dir, Address: "alice"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(t.Context()))
	assert.FileExists(t, c.InputPath())

	require.NoError(t, c.Disconnect(t.Context()))
	require.NoError(t, c.Disconnect(t.Context()))
	assert.NoFileExists(t, c.InputPath())
	assert.NoFileExists(t, c.OutputPath())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "empty namespace is removed")

	_, err = c.Receive(t.Context())
	assert.ErrorIs(t, err, connection.ErrClosed)
	assert.ErrorIs(t, c.Send(t.Context(), envelope.New("b", "a", "p", nil)), connection.ErrNotConnected)
}

func TestDirect_ReadsExistingAndPartialFrames(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input")
	first := envelope.New("agent", "user", "p", []byte("already there"))
	second := envelope.New("agent", "user", "p", []byte("written in halves"))

	f, err := os.Create(in)
	require.NoError(t, err)
	require.NoError(t, envelope.WriteFrame(f, first))
	require.NoError(t, f.Close())

	c := open(t, Options{InputFile: in, OutputFile: filepath.Join(dir, "output")})
	assert.True(t, first.Equal(receive(t, c)))

	frame, err := envelope.AppendFrame(nil, second)
	require.NoError(t, err)
	appendBytes(t, in, frame[:5])
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	_, err = c.Receive(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a partial frame is never delivered")

	appendBytes(t, in, frame[5:])
	assert.True(t, second.Equal(receive(t, c)))
}

func TestDirect_SkipsMalformedRecord(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input")
	c := open(t, Options{InputFile: in, OutputFile: filepath.Join(dir, "output")})

	bad := []byte{3, 0xee, 0xee, 0xee}
	good, err := envelope.AppendFrame(nil, envelope.New("agent", "user", "p", []byte("ok")))
	require.NoError(t, err)
	appendBytes(t, in, append(bad, good...))

	assert.Equal(t, []byte("ok"), receive(t, c).Message())
}

func TestDirect_SendAppendsToOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "output")
	c := open(t, Options{InputFile: filepath.Join(dir, "input"), OutputFile: out})

	env := envelope.New("user", "agent", "p", []byte("reply"))
	require.NoError(t, c.Send(t.Context(), env))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	got, err := envelope.ReadFrame(f)
	require.NoError(t, err)
	assert.True(t, env.Equal(got))
}

func TestRegister_Factory(t *testing.T) {
	reg := connection.NewRegistry()
	require.NoError(t, Register(reg))

	conn, err := reg.FromConfig(TypeName, "s1", connection.Identity{Address: "alice"},
		connection.Config{"namespace_dir": t.TempDir(), "poll_interval": "50ms"}, nil)
	require.NoError(t, err)
	c := conn.(*Connection)
	assert.Equal(t, "alice.in", filepath.Base(c.InputPath()))
	assert.Equal(t, 50*time.Millisecond, c.pollInterval)

	_, err = reg.FromConfig(TypeName, "s2", connection.Identity{Address: "alice"}, connection.Config{"poll_interval": "soon"}, nil)
	assert.Error(t, err)
}

func appendBytes(t *testing.T, path string, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(b)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
