// ABOUTME: Connection that carries envelopes over NATS, one subject per agent address
// ABOUTME: Subscribes to the local address subject and publishes to the recipient's

package natsconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
)

// TypeName is the connection type this package registers.
const TypeName = "nats"

// Defaults for Options.
const (
	DefaultSubjectPrefix = "agents"
	DefaultBufferSize    = 256
	DefaultReconnectWait = 2 * time.Second
	DefaultTimeout       = 5 * time.Second
)

// Options configures a NATS connection.
type Options struct {
	URL           string
	Address       string
	SubjectPrefix string
	Name          string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	BufferSize    int
}

// Connection publishes and subscribes on NATS subjects.
type Connection struct {
	connection.Base

	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg
	done chan struct{}
}

// New creates a NATS connection.
func New(id string, opts Options, logger *slog.Logger) (*Connection, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: address is required", connection.ErrBadConfig)
	}
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = DefaultReconnectWait
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		Base:   connection.NewBase(id),
		opts:   opts,
		logger: logger.With("component", "nats_connection", "url", opts.URL),
	}, nil
}

// Subject returns the subject envelopes for address are published on.
// NATS token separators and wildcards in the address are replaced.
func (c *Connection) Subject(address string) string {
	return c.opts.SubjectPrefix + "." + subjectToken(address)
}

func subjectToken(address string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, address)
}

func (c *Connection) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.opts.MaxReconnects),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.Timeout(c.opts.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "server", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Debug("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if c.opts.Name != "" {
		opts = append(opts, nats.Name(c.opts.Name))
	}
	if c.opts.Token != "" {
		opts = append(opts, nats.Token(c.opts.Token))
	}
	return opts
}

// Connect dials the server and subscribes to the local address subject.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status().IsConnected() {
		return nil
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	dialed := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(c.opts.URL, c.natsOptions()...)
		dialed <- result{nc, err}
	}()

	var nc *nats.Conn
	select {
	case r := <-dialed:
		if r.err != nil {
			return connection.NewTransportError(c.ID(), "connect", r.err)
		}
		nc = r.nc
	case <-ctx.Done():
		go func() {
			if r := <-dialed; r.nc != nil {
				r.nc.Close()
			}
		}()
		return connection.NewTransportError(c.ID(), "connect", ctx.Err())
	}

	msgs := make(chan *nats.Msg, c.opts.BufferSize)
	subject := c.Subject(c.opts.Address)
	sub, err := nc.ChanSubscribe(subject, msgs)
	if err != nil {
		nc.Close()
		return connection.NewTransportError(c.ID(), "connect", fmt.Errorf("subscribing to %s: %w", subject, err))
	}
	if err := nc.FlushTimeout(c.opts.Timeout); err != nil {
		_ = sub.Unsubscribe()
		nc.Close()
		return connection.NewTransportError(c.ID(), "connect", fmt.Errorf("flushing subscription: %w", err))
	}

	c.nc, c.sub, c.msgs = nc, sub, msgs
	c.done = make(chan struct{})
	c.Status().SetConnected(true)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Disconnect unsubscribes and closes the server connection. Safe to call repeatedly.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}

	c.Status().SetConnected(false)
	close(c.done)
	err := c.sub.Unsubscribe()
	c.nc.Close()
	c.nc, c.sub = nil, nil
	c.logger.Info("nats connection down")
	if err != nil {
		return connection.NewTransportError(c.ID(), "disconnect", err)
	}
	return nil
}

// Send publishes env on the recipient's subject.
func (c *Connection) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := c.RequireConnected("send"); err != nil {
		return err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}

	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil {
		return connection.NewTransportError(c.ID(), "send", connection.ErrNotConnected)
	}
	if err := nc.Publish(c.Subject(env.To()), data); err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}
	return nil
}

// Receive waits for the next envelope. Messages that do not decode are
// logged and skipped.
func (c *Connection) Receive(ctx context.Context) (*envelope.Envelope, error) {
	c.mu.Lock()
	msgs, done := c.msgs, c.done
	c.mu.Unlock()
	if msgs == nil {
		return nil, connection.ErrClosed
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, connection.ErrClosed
		case msg := <-msgs:
			env, err := envelope.Decode(msg.Data)
			if err != nil {
				c.logger.Warn("dropping undecodable message", "subject", msg.Subject, "error", err)
				continue
			}
			return env, nil
		}
	}
}

// Register adds the "nats" connection type to r.
//
// Config keys: url, subject_prefix, name, token, max_reconnects,
// reconnect_wait, timeout, buffer_size, address.
func Register(r *connection.Registry) error {
	return r.Register(TypeName, func(id string, identity connection.Identity, cfg connection.Config, logger *slog.Logger) (connection.Connection, error) {
		wait, err := cfg.Duration("reconnect_wait", DefaultReconnectWait)
		if err != nil {
			return nil, err
		}
		timeout, err := cfg.Duration("timeout", DefaultTimeout)
		if err != nil {
			return nil, err
		}
		return New(id, Options{
			URL:           cfg.String("url", nats.DefaultURL),
			Address:       cfg.String("address", identity.Address),
			SubjectPrefix: cfg.String("subject_prefix", DefaultSubjectPrefix),
			Name:          cfg.String("name", identity.Name),
			Token:         cfg.String("token", ""),
			MaxReconnects: cfg.Int("max_reconnects", nats.DefaultMaxReconnect),
			ReconnectWait: wait,
			Timeout:       timeout,
			BufferSize:    cfg.Int("buffer_size", DefaultBufferSize),
		}, logger)
	})
}
