// ABOUTME: Tests for the agent loop over the in-process transport
// ABOUTME: Covers error replies, dialogue dispatch, reaction limits, behaviours and worker callbacks

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-runtime/internal/behaviour"
	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/mux"
	"github.com/2389/agent-runtime/internal/protocol"
	"github.com/2389/agent-runtime/internal/transport/local"
)

func newTestAgent(t *testing.T, node *local.Node, address string, opts ...func(*Params)) *Agent {
	t.Helper()
	conn := local.NewConnection("local", address, node, nil)
	mx, err := mux.New(mux.Params{Connections: []connection.Connection{conn}})
	require.NoError(t, err)

	p := Params{Address: address, Multiplexer: mx}
	for _, o := range opts {
		o(&p)
	}
	a, err := New(p)
	require.NoError(t, err)

	require.NoError(t, mx.Connect(t.Context()))
	t.Cleanup(func() { _ = mx.Disconnect(context.Background()) })
	return a
}

// peer is a bare connection standing in for a remote agent.
func newPeer(t *testing.T, node *local.Node, address string) *local.Connection {
	t.Helper()
	c := local.NewConnection("peer", address, node, nil)
	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

// tickUntilReceived ticks a until peer receives an envelope.
func tickUntilReceived(t *testing.T, a *Agent, peer *local.Connection) *envelope.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a.Tick(t.Context())
		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		env, err := peer.Receive(ctx)
		cancel()
		if err == nil {
			return env
		}
	}
	t.Fatal("peer received nothing")
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrMissingAddress)

	_, err = New(Params{Address: "a"})
	assert.ErrorIs(t, err, ErrNoMultiplexer)
}

func TestAgent_DuplicateHandler(t *testing.T) {
	a := newTestAgent(t, local.NewNode(0, nil), "bob")
	h := HandlerFunc{Protocol: "p", Fn: func(context.Context, *envelope.Envelope, *protocol.Message) error { return nil }}
	require.NoError(t, a.AddHandler(h))
	assert.ErrorIs(t, a.AddHandler(h), ErrDuplicateHandler)

	got, ok := a.Handler("p")
	assert.True(t, ok)
	assert.Equal(t, "p", got.ProtocolID())
}

func TestAgent_UnsupportedProtocolRepliesError(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	bob := newTestAgent(t, node, "bob")
	peer := newPeer(t, node, "alice")

	sent := envelope.New("bob", "alice", "acme/unknown:1.0.0", []byte("?"))
	require.NoError(t, peer.Send(t.Context(), sent))

	reply := tickUntilReceived(t, bob, peer)
	assert.Equal(t, protocol.DefaultProtocolID, reply.ProtocolID())
	assert.Equal(t, "bob", reply.Sender())

	m, err := protocol.FromEnvelope(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.PerformativeError, m.Performative)
	assert.Equal(t, protocol.ErrorCodeUnsupportedProtocol, protocol.ErrorCodeOf(m))
	assert.Contains(t, m.Text("error_msg"), "acme/unknown:1.0.0")
	assert.Contains(t, m.Body, "error_data")
}

func TestAgent_ErrorReplyLeavesThroughInboundConnection(t *testing.T) {
	node1 := local.NewNode(0, nil)
	defer node1.Close()
	node2 := local.NewNode(0, nil)
	defer node2.Close()

	a := local.NewConnection("a", "bob", node1, nil)
	b := local.NewConnection("b", "bob", node2, nil)
	mx, err := mux.New(mux.Params{Connections: []connection.Connection{a, b}, DefaultConnection: "a"})
	require.NoError(t, err)
	bob, err := New(Params{Address: "bob", Multiplexer: mx})
	require.NoError(t, err)
	require.NoError(t, mx.Connect(t.Context()))
	t.Cleanup(func() { _ = mx.Disconnect(context.Background()) })

	// alice is only reachable on node2, and her envelope names her own connection.
	peer := newPeer(t, node2, "alice")
	sent := envelope.New("bob", "alice", "acme/unknown:1.0.0", []byte("?")).WithConnection("a")
	require.NoError(t, peer.Send(t.Context(), sent))

	reply := tickUntilReceived(t, bob, peer)
	assert.Equal(t, "b", reply.ConnectionID())
	m, err := protocol.FromEnvelope(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrorCodeUnsupportedProtocol, protocol.ErrorCodeOf(m))
}

func TestContext_FullOutboxLeavesDialogueUnchanged(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	conn := local.NewConnection("local", "alice", node, nil)
	mx, err := mux.New(mux.Params{Connections: []connection.Connection{conn}, OutboxCapacity: 1})
	require.NoError(t, err)
	alice, err := New(Params{Address: "alice", Multiplexer: mx})
	require.NoError(t, err)

	h := NewDialogueHandler(alice.Context(), protocol.DefaultSpec, PerformativeTable{})
	require.NoError(t, alice.AddHandler(h))
	dialogues := h.Dialogues()

	start := func(ref protocol.DialogueReference) *protocol.Message {
		m := protocol.NewBytesMessage(ref, protocol.StartingMessageID, protocol.StartingTarget, []byte("hi"))
		m.To = "bob"
		return m
	}

	// Nothing drains the outbox until the multiplexer connects.
	require.NoError(t, alice.Context().Send(protocol.DefaultProtocolID, start(dialogues.NewSelfInitiatedDialogueReference())))

	ref := dialogues.NewSelfInitiatedDialogueReference()
	err = alice.Context().Send(protocol.DefaultProtocolID, start(ref))
	require.ErrorIs(t, err, mux.ErrOutboxFull)

	label := dialogue.Label{Reference: ref, Opponent: "bob", Starter: "alice"}
	_, ok := dialogues.Get(label)
	assert.False(t, ok)
	assert.Equal(t, 1, dialogues.Stats().SelfInitiated)

	require.NoError(t, mx.Connect(t.Context()))
	t.Cleanup(func() { _ = mx.Disconnect(context.Background()) })

	// The identical message is accepted once there is room.
	require.Eventually(t, func() bool {
		return alice.Context().Send(protocol.DefaultProtocolID, start(ref)) == nil
	}, 2*time.Second, 5*time.Millisecond)

	d, ok := dialogues.Get(label)
	require.True(t, ok)
	assert.Equal(t, 1, d.LastMessageID())
	assert.Equal(t, 1, d.Len())
}

func TestAgent_DecodingErrorRepliesError(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	bob := newTestAgent(t, node, "bob")
	require.NoError(t, bob.AddHandler(HandlerFunc{Protocol: "acme/raw:1.0.0", Fn: func(context.Context, *envelope.Envelope, *protocol.Message) error {
		t.Error("handler must not see undecodable payloads")
		return nil
	}}))
	peer := newPeer(t, node, "alice")

	require.NoError(t, peer.Send(t.Context(), envelope.New("bob", "alice", "acme/raw:1.0.0", []byte{0xff, 0x01})))

	reply := tickUntilReceived(t, bob, peer)
	m, err := protocol.FromEnvelope(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrorCodeDecodingError, protocol.ErrorCodeOf(m))
}

func TestAgent_DialogueRoundTrip(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	alice := newTestAgent(t, node, "alice")
	bob := newTestAgent(t, node, "bob")

	bobHandler := NewDialogueHandler(bob.Context(), protocol.DefaultSpec, PerformativeTable{
		protocol.PerformativeBytes: func(_ context.Context, d *dialogue.Dialogue, m *protocol.Message) error {
			content, err := m.Bytes("content")
			if err != nil {
				return err
			}
			reply := d.Reply(protocol.PerformativeBytes).SetBytes("content", append([]byte("re: "), content...))
			return bob.Context().Send(protocol.DefaultProtocolID, reply)
		},
	})
	require.NoError(t, bob.AddHandler(bobHandler))

	var got atomic.Value
	aliceHandler := NewDialogueHandler(alice.Context(), protocol.DefaultSpec, PerformativeTable{
		protocol.PerformativeBytes: func(_ context.Context, _ *dialogue.Dialogue, m *protocol.Message) error {
			content, err := m.Bytes("content")
			got.Store(string(content))
			return err
		},
	})
	require.NoError(t, alice.AddHandler(aliceHandler))

	ref := aliceHandler.Dialogues().NewSelfInitiatedDialogueReference()
	first := protocol.NewBytesMessage(ref, protocol.StartingMessageID, protocol.StartingTarget, []byte("hello"))
	first.To = "bob"
	require.NoError(t, alice.Context().Send(protocol.DefaultProtocolID, first))

	require.Eventually(t, func() bool {
		bob.Tick(context.Background())
		alice.Tick(context.Background())
		return got.Load() != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "re: hello", got.Load())
	assert.Equal(t, 1, aliceHandler.Dialogues().Stats().SelfInitiated)
	assert.Equal(t, 1, bobHandler.Dialogues().Stats().OtherInitiated)
}

func TestAgent_InvalidDialogueRepliesError(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	bob := newTestAgent(t, node, "bob")
	require.NoError(t, bob.AddHandler(NewDialogueHandler(bob.Context(), protocol.DefaultSpec, PerformativeTable{})))
	peer := newPeer(t, node, "alice")

	// A reply in a dialogue bob never heard of.
	m := protocol.NewBytesMessage(protocol.DialogueReference{"n1", "n2"}, 2, 1, []byte("late"))
	m.Sender, m.To = "alice", "bob"
	env, err := protocol.ToEnvelope(protocol.DefaultProtocolID, m)
	require.NoError(t, err)
	require.NoError(t, peer.Send(t.Context(), env))

	reply := tickUntilReceived(t, bob, peer)
	rm, err := protocol.FromEnvelope(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.ErrorCodeInvalidDialogue, protocol.ErrorCodeOf(rm))
}

func TestAgent_UnhandledPerformativeIsDropped(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	bob := newTestAgent(t, node, "bob")
	h := NewDialogueHandler(bob.Context(), protocol.DefaultSpec, PerformativeTable{})
	require.NoError(t, bob.AddHandler(h))
	peer := newPeer(t, node, "alice")

	m := protocol.NewBytesMessage(protocol.DialogueReference{"n1", ""}, 1, 0, []byte("hi"))
	m.Sender, m.To = "alice", "bob"
	env, err := protocol.ToEnvelope(protocol.DefaultProtocolID, m)
	require.NoError(t, err)
	require.NoError(t, peer.Send(t.Context(), env))

	require.Eventually(t, func() bool {
		bob.Tick(context.Background())
		return h.Dialogues().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = peer.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no reply for an unhandled performative")
}

func TestAgent_MaxReactionsPerTick(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	bob := newTestAgent(t, node, "bob", func(p *Params) { p.MaxReactions = 2 })
	var handled int
	require.NoError(t, bob.AddHandler(HandlerFunc{Protocol: protocol.DefaultProtocolID, Fn: func(context.Context, *envelope.Envelope, *protocol.Message) error {
		handled++
		return nil
	}}))
	peer := newPeer(t, node, "alice")

	for i := 1; i <= 5; i++ {
		m := protocol.NewBytesMessage(protocol.DialogueReference{"n", ""}, 1, 0, nil)
		m.Sender, m.To = "alice", "bob"
		env, err := protocol.ToEnvelope(protocol.DefaultProtocolID, m)
		require.NoError(t, err)
		require.NoError(t, peer.Send(t.Context(), env))
	}
	require.Eventually(t, func() bool {
		return bob.Multiplexer().Inbox().Len() == 5
	}, 2*time.Second, 5*time.Millisecond)

	st := bob.Tick(t.Context())
	assert.Equal(t, 2, st.Reactions)
	assert.Equal(t, 2, handled)
	assert.Equal(t, 3, bob.Multiplexer().Inbox().Len())
}

func TestAgent_BehavioursActInOrder(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	a := newTestAgent(t, local.NewNode(0, nil), "bob", func(p *Params) { p.Clock = clock })

	var order []string
	record := func(name string) behaviour.ActFunc {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	require.NoError(t, a.AddBehaviour(behaviour.NewOneShot("once", record("once"))))
	require.NoError(t, a.AddBehaviour(behaviour.NewCyclic("cyclic", record("cyclic"))))
	require.NoError(t, a.AddBehaviour(behaviour.NewTicker("ticker", 10*time.Second, record("ticker"), behaviour.WithClock(clock))))
	require.NoError(t, a.Setup())
	assert.ErrorIs(t, a.Setup(), ErrAlreadyStarted)

	a.Tick(t.Context())
	now = now.Add(time.Second)
	a.Tick(t.Context())
	now = now.Add(10 * time.Second)
	a.Tick(t.Context())

	assert.Equal(t, []string{
		"once", "cyclic", "ticker",
		"cyclic",
		"cyclic", "ticker",
	}, order)
	require.NoError(t, a.Teardown())
}

func TestAgent_BehaviourErrorDoesNotStopOthers(t *testing.T) {
	a := newTestAgent(t, local.NewNode(0, nil), "bob")
	var acted bool
	require.NoError(t, a.AddBehaviour(behaviour.NewCyclic("broken", func(context.Context) error { return errors.New("boom") })))
	require.NoError(t, a.AddBehaviour(behaviour.NewOneShot("fine", func(context.Context) error {
		acted = true
		return nil
	})))
	require.NoError(t, a.Setup())

	st := a.Tick(t.Context())
	assert.Equal(t, 2, st.Acted)
	assert.True(t, acted)
}

func TestAgent_PoolCallbacksRunOnTick(t *testing.T) {
	a := newTestAgent(t, local.NewNode(0, nil), "bob")
	var mu sync.Mutex
	var result any
	require.NoError(t, a.Context().Submit(
		func(context.Context) (any, error) { return 42, nil },
		func(r any, err error) {
			assert.NoError(t, err)
			mu.Lock()
			result = r
			mu.Unlock()
		},
	))

	require.Eventually(t, func() bool {
		return a.Tick(context.Background()).Callbacks == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 42, result)
}

func TestAgent_RunUntilCancelled(t *testing.T) {
	node := local.NewNode(0, nil)
	defer node.Close()
	conn := local.NewConnection("local", "bob", node, nil)
	mx, err := mux.New(mux.Params{Connections: []connection.Connection{conn}})
	require.NoError(t, err)
	a, err := New(Params{Address: "bob", Multiplexer: mx, TickInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	acted := make(chan struct{})
	require.NoError(t, a.AddBehaviour(behaviour.NewOneShot("once", func(context.Context) error {
		close(acted)
		return nil
	})))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-acted:
	case <-time.After(2 * time.Second):
		t.Fatal("behaviour never acted")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, mx.Running())
	assert.False(t, conn.Status().IsConnected())
}
