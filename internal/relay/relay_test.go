// ABOUTME: Tests for relay frames, the session registry and end-to-end stream routing
// ABOUTME: Runs the gRPC relay over an in-memory bufconn listener

package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/agent-runtime/internal/auth"
	"github.com/2389/agent-runtime/internal/envelope"
)

const testSecret = "relay-test-secret-at-least-32-bytes"

func TestFrame_RoundTrip(t *testing.T) {
	env := envelope.New("bob", "alice", "fetchai/default:0.1.0", []byte("hi"))
	in := &Frame{Kind: FrameEnvelope, ID: "f-1", Envelope: env, Error: "none"}

	data, err := MarshalFrame(in)
	require.NoError(t, err)

	out, err := UnmarshalFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameEnvelope, out.Kind)
	assert.Equal(t, "f-1", out.ID)
	assert.Equal(t, "none", out.Error)
	assert.True(t, env.Equal(out.Envelope))
}

func TestFrame_Malformed(t *testing.T) {
	_, err := UnmarshalFrame([]byte{0xff})
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = UnmarshalFrame(nil)
	assert.ErrorIs(t, err, ErrBadFrame, "missing kind")
}

func TestSessionManager_RoundRobin(t *testing.T) {
	m := NewSessionManager(nil)
	a1 := NewSession("s1", "alice", nil, nil)
	a2 := NewSession("s2", "alice", nil, nil)
	require.NoError(t, m.Register(a1))
	require.NoError(t, m.Register(a2))
	assert.ErrorIs(t, m.Register(a1), ErrSessionAlreadyRegistered)

	var picked []string
	for i := 0; i < 4; i++ {
		s, err := m.Select("alice")
		require.NoError(t, err)
		picked = append(picked, s.ID)
	}
	assert.Equal(t, []string{"s1", "s2", "s1", "s2"}, picked)

	m.Unregister("s1")
	s, err := m.Select("alice")
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)

	m.Unregister("s2")
	_, err = m.Select("alice")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, m.IsOnline("alice"))
	assert.Equal(t, 0, m.Len())
}

type testRelay struct {
	relay *Relay
	lis   *bufconn.Listener
}

func startRelay(t *testing.T, secret string) *testRelay {
	t.Helper()
	r, err := New(Config{JWTSecret: secret, DedupeTTL: time.Minute, DedupeSize: 100}, nil, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = r.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return &testRelay{relay: r, lis: lis}
}

func (tr *testRelay) dial(t *testing.T, token string) *grpc.ClientConn {
	t.Helper()
	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return tr.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(auth.TokenCredentials{Token: token}))
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (tr *testRelay) register(t *testing.T, address string) ClientStream {
	t.Helper()
	token := ""
	if tr.relay.verifier != nil {
		var err error
		token, err = tr.relay.IssueToken(address, time.Hour)
		require.NoError(t, err)
	}
	stream, err := OpenStream(t.Context(), tr.dial(t, token))
	require.NoError(t, err)

	require.NoError(t, stream.Send(&Frame{Kind: FrameRegister, Address: address}))
	welcome, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, FrameWelcome, welcome.Kind)
	require.Equal(t, address, welcome.Address)
	require.NotEmpty(t, welcome.ID)
	return stream
}

func TestRelay_ForwardsEnvelope(t *testing.T) {
	tr := startRelay(t, testSecret)
	alice := tr.register(t, "alice")
	bob := tr.register(t, "bob")

	env := envelope.New("bob", "alice", "fetchai/default:0.1.0", []byte("hello bob"))
	require.NoError(t, alice.Send(&Frame{Kind: FrameEnvelope, ID: "f-1", Envelope: env}))

	got, err := bob.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameEnvelope, got.Kind)
	assert.Equal(t, "f-1", got.ID)
	assert.Equal(t, []byte("hello bob"), got.Envelope.Message())
	assert.Equal(t, []string{"alice", "bob"}, tr.relay.Sessions().Addresses())
}

func TestRelay_UndeliverableGetsErrorFrame(t *testing.T) {
	tr := startRelay(t, testSecret)
	alice := tr.register(t, "alice")

	env := envelope.New("nobody", "alice", "p", []byte("x"))
	require.NoError(t, alice.Send(&Frame{Kind: FrameEnvelope, ID: "f-2", Envelope: env}))

	got, err := alice.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameError, got.Kind)
	assert.Equal(t, "f-2", got.ID)
	assert.Contains(t, got.Error, "nobody")
	assert.True(t, env.Equal(got.Envelope))
}

func TestRelay_SpoofedSenderRejected(t *testing.T) {
	tr := startRelay(t, testSecret)
	alice := tr.register(t, "alice")
	tr.register(t, "bob")

	env := envelope.New("bob", "mallory", "p", []byte("x"))
	require.NoError(t, alice.Send(&Frame{Kind: FrameEnvelope, ID: "f-3", Envelope: env}))

	got, err := alice.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameError, got.Kind)
	assert.Contains(t, got.Error, "mallory")
}

func TestRelay_DropsDuplicateFrames(t *testing.T) {
	tr := startRelay(t, testSecret)
	alice := tr.register(t, "alice")
	bob := tr.register(t, "bob")

	first := envelope.New("bob", "alice", "p", []byte("one"))
	second := envelope.New("bob", "alice", "p", []byte("two"))
	require.NoError(t, alice.Send(&Frame{Kind: FrameEnvelope, ID: "dup", Envelope: first}))
	require.NoError(t, alice.Send(&Frame{Kind: FrameEnvelope, ID: "dup", Envelope: first}))
	require.NoError(t, alice.Send(&Frame{Kind: FrameEnvelope, ID: "next", Envelope: second}))

	got, err := bob.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got.Envelope.Message())

	got, err = bob.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got.Envelope.Message(), "duplicate frame was not forwarded")
}

func TestRelay_TokenMustMatchAddress(t *testing.T) {
	tr := startRelay(t, testSecret)
	token, err := tr.relay.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	stream, err := OpenStream(t.Context(), tr.dial(t, token))
	require.NoError(t, err)
	require.NoError(t, stream.Send(&Frame{Kind: FrameRegister, Address: "bob"}))

	_, err = stream.Recv()
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestRelay_MissingTokenUnauthenticated(t *testing.T) {
	tr := startRelay(t, testSecret)

	stream, err := OpenStream(t.Context(), tr.dial(t, ""))
	if err == nil {
		_ = stream.Send(&Frame{Kind: FrameRegister, Address: "alice"})
		_, err = stream.Recv()
	}
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRelay_FirstFrameMustRegister(t *testing.T) {
	tr := startRelay(t, "")

	stream, err := OpenStream(t.Context(), tr.dial(t, ""))
	require.NoError(t, err)
	require.NoError(t, stream.Send(&Frame{Kind: FrameEnvelope, Envelope: envelope.New("b", "a", "p", nil)}))

	_, err = stream.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRelay_UnregistersOnClose(t *testing.T) {
	tr := startRelay(t, "")
	alice := tr.register(t, "alice")
	assert.True(t, tr.relay.Sessions().IsOnline("alice"))

	require.NoError(t, alice.CloseSend())
	assert.Eventually(t, func() bool {
		return !tr.relay.Sessions().IsOnline("alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_IssueTokenWithoutAuth(t *testing.T) {
	tr := startRelay(t, "")
	_, err := tr.relay.IssueToken("alice", time.Hour)
	assert.ErrorIs(t, err, ErrAuthDisabled)
}
