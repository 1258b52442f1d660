// ABOUTME: Connection that reaches other agents through a gRPC relay stream
// ABOUTME: Registers the agent address, then exchanges envelope frames until disconnected

package relayconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/2389/agent-runtime/internal/auth"
	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/relay"
)

// TypeName is the connection type this package registers.
const TypeName = "relay"

// DefaultHandshakeTimeout bounds the register/welcome exchange.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrHandshake is returned when the relay does not welcome the connection.
var ErrHandshake = errors.New("relay handshake failed")

// Options configures a relay Connection.
type Options struct {
	Target  string
	Address string
	// Token is sent as a bearer token when set.
	Token string
	// TLS dials with transport security. The token then requires TLS.
	TLS              bool
	HandshakeTimeout time.Duration
	// DialOptions are appended to the defaults, for tests and custom dialers.
	DialOptions []grpc.DialOption
}

// Connection is one relay session.
type Connection struct {
	connection.Base

	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	conn      *grpc.ClientConn
	stream    relay.ClientStream
	cancel    context.CancelFunc
	sessionID string
	in        chan *envelope.Envelope
	done      chan struct{}
	wg        sync.WaitGroup

	sendMu sync.Mutex
}

// New creates a relay connection.
func New(id string, opts Options, logger *slog.Logger) (*Connection, error) {
	if opts.Target == "" {
		return nil, fmt.Errorf("%w: target is required", connection.ErrBadConfig)
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: address is required", connection.ErrBadConfig)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		Base:   connection.NewBase(id),
		opts:   opts,
		logger: logger.With("component", "relay_connection", "target", opts.Target),
	}, nil
}

// SessionID returns the id the relay assigned, empty when disconnected.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Connection) dialOptions() []grpc.DialOption {
	var opts []grpc.DialOption
	if c.opts.TLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if c.opts.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(auth.TokenCredentials{Token: c.opts.Token, Secure: c.opts.TLS}))
	}
	return append(opts, c.opts.DialOptions...)
}

// Connect opens the stream and registers the agent address.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status().IsConnected() {
		return nil
	}
	if c.conn != nil {
		// The previous stream failed on its own; release it before redialling.
		_ = c.closeLocked()
	}

	conn, err := grpc.NewClient(c.opts.Target, c.dialOptions()...)
	if err != nil {
		return connection.NewTransportError(c.ID(), "connect", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	fail := func(err error) error {
		cancel()
		conn.Close()
		return connection.NewTransportError(c.ID(), "connect", err)
	}

	// The stream outlives ctx; only the handshake is bounded by it.
	hsCtx, hsCancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer hsCancel()
	stop := context.AfterFunc(hsCtx, cancel)
	defer stop()

	stream, err := relay.OpenStream(streamCtx, conn)
	if err != nil {
		return fail(err)
	}
	if err := stream.Send(&relay.Frame{Kind: relay.FrameRegister, Address: c.opts.Address}); err != nil {
		return fail(err)
	}
	welcome, err := stream.Recv()
	if err != nil {
		if hsCtx.Err() != nil {
			return fail(fmt.Errorf("%w: %v", ErrHandshake, hsCtx.Err()))
		}
		return fail(fmt.Errorf("%w: %v", ErrHandshake, err))
	}
	if welcome.Kind != relay.FrameWelcome {
		return fail(fmt.Errorf("%w: expected welcome, got %s", ErrHandshake, welcome.Kind))
	}
	if !stop() {
		return fail(fmt.Errorf("%w: %v", ErrHandshake, hsCtx.Err()))
	}

	c.conn = conn
	c.stream = stream
	c.cancel = cancel
	c.sessionID = welcome.ID
	c.in = make(chan *envelope.Envelope, 64)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.readLoop(stream, c.in, c.done)

	c.Status().SetConnected(true)
	c.logger.Info("registered with relay", "address", c.opts.Address, "session_id", welcome.ID)
	return nil
}

func (c *Connection) readLoop(stream relay.ClientStream, out chan<- *envelope.Envelope, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		f, err := stream.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
				c.logger.Debug("relay stream closed")
			default:
				c.logger.Error("relay stream failed", "error", err)
			}
			c.Status().SetConnected(false)
			return
		}

		switch f.Kind {
		case relay.FrameEnvelope:
			if f.Envelope == nil {
				c.logger.Warn("envelope frame without envelope", "frame_id", f.ID)
				continue
			}
			out <- f.Envelope
		case relay.FrameError:
			to := ""
			if f.Envelope != nil {
				to = f.Envelope.To()
			}
			c.logger.Warn("relay rejected envelope", "frame_id", f.ID, "to", to, "error", f.Error)
		default:
			c.logger.Warn("unexpected relay frame", "kind", f.Kind.String())
		}
	}
}

// Disconnect closes the stream. Safe to call repeatedly.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.closeLocked()
	c.logger.Info("disconnected from relay")
	if err != nil {
		return connection.NewTransportError(c.ID(), "disconnect", err)
	}
	return nil
}

// closeLocked releases the stream and client connection. c.mu must be held.
func (c *Connection) closeLocked() error {
	c.Status().SetConnected(false)
	c.sendMu.Lock()
	_ = c.stream.CloseSend()
	c.sendMu.Unlock()
	c.cancel()

	// Drain so the read loop never blocks on a full channel while exiting.
	go func(in <-chan *envelope.Envelope, done <-chan struct{}) {
		for {
			select {
			case <-in:
			case <-done:
				return
			}
		}
	}(c.in, c.done)
	c.wg.Wait()

	err := c.conn.Close()
	c.conn = nil
	c.stream = nil
	c.sessionID = ""
	return err
}

// Send forwards env to the relay.
func (c *Connection) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := c.RequireConnected("send"); err != nil {
		return err
	}
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return connection.NewTransportError(c.ID(), "send", connection.ErrNotConnected)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := stream.Send(&relay.Frame{Kind: relay.FrameEnvelope, ID: uuid.NewString(), Envelope: env}); err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}
	return nil
}

// Receive waits for the next envelope from the relay.
func (c *Connection) Receive(ctx context.Context) (*envelope.Envelope, error) {
	c.mu.Lock()
	in, done := c.in, c.done
	c.mu.Unlock()
	if in == nil {
		return nil, connection.ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env := <-in:
		return env, nil
	case <-done:
		select {
		case env := <-in:
			return env, nil
		default:
			return nil, connection.ErrClosed
		}
	}
}

// Register adds the "relay" connection type to r.
//
// Config keys: target (required), token, tls, handshake_timeout, address.
func Register(r *connection.Registry) error {
	return r.Register(TypeName, func(id string, identity connection.Identity, cfg connection.Config, logger *slog.Logger) (connection.Connection, error) {
		target, err := cfg.Require("target")
		if err != nil {
			return nil, err
		}
		timeout, err := cfg.Duration("handshake_timeout", DefaultHandshakeTimeout)
		if err != nil {
			return nil, err
		}
		return New(id, Options{
			Target:           target,
			Address:          cfg.String("address", identity.Address),
			Token:            cfg.String("token", ""),
			TLS:              cfg.Bool("tls", false),
			HandshakeTimeout: timeout,
		}, logger)
	})
}
