// ABOUTME: Tests for the interactive CLI against a stub peer standing in for the agent
// ABOUTME: Output colouring is disabled so printed lines can be matched directly

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/protocol"
	"github.com/2389/agent-runtime/internal/transport/stub"
)

type buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func noColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestDescribe(t *testing.T) {
	noColor(t)

	bytesMsg := protocol.NewBytesMessage(protocol.DialogueReference{"a", "b"}, 2, 1, []byte("pong"))
	bytesMsg.Sender, bytesMsg.To = "agent", "user"
	env, err := protocol.ToEnvelope(protocol.DefaultProtocolID, bytesMsg)
	require.NoError(t, err)
	assert.Equal(t, "agent: pong", describe(env))

	errMsg := protocol.NewErrorMessage(protocol.DialogueReference{"c", ""}, protocol.ErrorCodeInvalidDialogue, "no such dialogue", nil)
	errMsg.Sender, errMsg.To = "agent", "user"
	env, err = protocol.ToEnvelope(protocol.DefaultProtocolID, errMsg)
	require.NoError(t, err)
	assert.Equal(t, "agent error invalid_dialogue: no such dialogue", describe(env))

	ledgerMsg := protocol.NewGetBalance(protocol.DialogueReference{"d", ""}, "fetchai", "user")
	ledgerMsg.Sender, ledgerMsg.To = "agent", "user"
	env, err = protocol.ToEnvelope(protocol.LedgerProtocolID, ledgerMsg)
	require.NoError(t, err)
	assert.Equal(t, "agent [fetchai/ledger_api:0.1.0] get_balance", describe(env))

	raw := envelope.New("user", "agent", "acme/raw:1.0.0", []byte{0xff})
	assert.Equal(t, "agent [acme/raw:1.0.0] 1 undecodable bytes", describe(raw))
}

func TestRun_ExchangesWithAgent(t *testing.T) {
	noColor(t)
	dir := t.TempDir()

	agent, err := stub.New("agent", stub.Options{Namespace: dir, Address: "echo"}, nil)
	require.NoError(t, err)
	require.NoError(t, agent.Connect(t.Context()))
	defer func() { _ = agent.Disconnect(context.Background()) }()

	inR, inW := io.Pipe()
	out := &buffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(t.Context(), stub.Options{Namespace: dir, Address: "user"}, "echo", inR, out, nil)
	}()

	_, err = io.WriteString(inW, "hello\n")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	env, err := agent.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user", env.Sender())

	m, err := protocol.FromEnvelope(env)
	require.NoError(t, err)
	content, err := m.Bytes("content")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	reply := protocol.NewBytesMessage(protocol.DialogueReference{m.DialogueReference[0], "srv"}, 2, 1, []byte("hi user"))
	reply.Sender, reply.To = "echo", "user"
	renv, err := protocol.ToEnvelope(protocol.DefaultProtocolID, reply)
	require.NoError(t, err)
	require.NoError(t, agent.Send(t.Context(), renv))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "echo: hi user")
	}, 5*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(inW, "/quit\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after /quit")
	}
	assert.Contains(t, out.String(), "talking to echo as user")
}
