// ABOUTME: Tests for the NATS connection that need no running server
// ABOUTME: Covers subject mapping, config defaults and connect failures

package natsconn

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
)

func TestSubject_EscapesTokens(t *testing.T) {
	c, err := New("n", Options{Address: "alice"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "agents.alice", c.Subject("alice"))
	assert.Equal(t, "agents.fetch_ai_agent_1", c.Subject("fetch.ai agent>1"))
	assert.Equal(t, "agents.a_b", c.Subject("a*b"))
}

func TestNew_Defaults(t *testing.T) {
	_, err := New("n", Options{}, nil)
	assert.ErrorIs(t, err, connection.ErrBadConfig)

	c, err := New("n", Options{Address: "alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, nats.DefaultURL, c.opts.URL)
	assert.Equal(t, DefaultSubjectPrefix, c.opts.SubjectPrefix)
	assert.Equal(t, DefaultBufferSize, c.opts.BufferSize)
}

func TestConnect_UnreachableServer(t *testing.T) {
	c, err := New("n", Options{
		URL:           "nats://127.0.0.1:1",
		Address:       "alice",
		MaxReconnects: 0,
		Timeout:       200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	err = c.Connect(ctx)
	require.Error(t, err)

	var te *connection.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
	assert.False(t, c.Status().IsConnected())
}

func TestNotConnected(t *testing.T) {
	c, err := New("n", Options{Address: "alice"}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Send(t.Context(), envelope.New("bob", "alice", "p", nil)), connection.ErrNotConnected)
	_, err = c.Receive(t.Context())
	assert.ErrorIs(t, err, connection.ErrClosed)
	assert.NoError(t, c.Disconnect(t.Context()))
}

func TestRegister_Factory(t *testing.T) {
	reg := connection.NewRegistry()
	require.NoError(t, Register(reg))

	conn, err := reg.FromConfig(TypeName, "n1", connection.Identity{Name: "alice-agent", Address: "alice"},
		connection.Config{"url": "nats://broker:4222", "subject_prefix": "mesh", "reconnect_wait": "1s"}, nil)
	require.NoError(t, err)
	c := conn.(*Connection)
	assert.Equal(t, "mesh.alice", c.Subject("alice"))
	assert.Equal(t, "alice-agent", c.opts.Name)
	assert.Equal(t, time.Second, c.opts.ReconnectWait)

	_, err = reg.FromConfig(TypeName, "n2", connection.Identity{Address: "alice"}, connection.Config{"timeout": 5}, nil)
	assert.ErrorIs(t, err, connection.ErrBadConfig)
}
