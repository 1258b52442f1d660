// ABOUTME: Multiplexer fanning envelopes in and out across a set of connections
// ABOUTME: One receive task per connection plus one dispatch task, isolated failures

package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/store"
)

// DefaultQueueCapacity is used when Params leaves a capacity at zero.
const DefaultQueueCapacity = 1024

var (
	// ErrNoRoute is reported when an envelope names a connection the multiplexer does not own
	ErrNoRoute = errors.New("no connection for envelope")
	// ErrNoConnections is returned by New when no connection is given
	ErrNoConnections = errors.New("multiplexer needs at least one connection")
	// ErrDuplicateConnection is returned by New when two connections share an id
	ErrDuplicateConnection = errors.New("duplicate connection id")
)

// Metrics receives multiplexer counters. *metrics.Collector implements it.
type Metrics interface {
	EnvelopeReceived(connectionID string)
	EnvelopeSent(connectionID string)
	EnvelopeDropped(reason string)
	QueueDepth(queue string, depth int)
}

// Recorder persists envelope traffic for audit. *store.SQLiteStore implements it.
type Recorder interface {
	SaveEnvelopeEvent(ctx context.Context, event *store.EnvelopeEvent) error
}

type noopMetrics struct{}

func (noopMetrics) EnvelopeReceived(string) {}
func (noopMetrics) EnvelopeSent(string)     {}
func (noopMetrics) EnvelopeDropped(string)  {}
func (noopMetrics) QueueDepth(string, int)  {}

// Params configures a Multiplexer.
type Params struct {
	Connections []connection.Connection
	// DefaultConnection is the id used for envelopes with no connection in
	// their context. Empty means the first connection.
	DefaultConnection string
	InboxCapacity     int
	OutboxCapacity    int
	Logger            *slog.Logger
	Metrics           Metrics
	Recorder          Recorder
}

// Multiplexer owns a set of connections and bridges them to an Inbox and Outbox.
//
// Within one connection, receive order is preserved into the inbox. Outbound
// envelopes are sent by a single dispatch task in enqueue order. A failing
// receive task is logged and ends without affecting the others.
type Multiplexer struct {
	connections []connection.Connection
	byID        map[string]connection.Connection
	defaultConn connection.Connection

	in  chan *envelope.Envelope
	out chan *envelope.Envelope

	inbox  *Inbox
	outbox *Outbox

	logger   *slog.Logger
	metrics  Metrics
	recorder Recorder

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a multiplexer and binds itself as the loop of every connection.
func New(p Params) (*Multiplexer, error) {
	if len(p.Connections) == 0 {
		return nil, ErrNoConnections
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mux")

	var m Metrics = noopMetrics{}
	if p.Metrics != nil {
		m = p.Metrics
	}

	inCap, outCap := p.InboxCapacity, p.OutboxCapacity
	if inCap <= 0 {
		inCap = DefaultQueueCapacity
	}
	if outCap <= 0 {
		outCap = DefaultQueueCapacity
	}

	mx := &Multiplexer{
		connections: p.Connections,
		byID:        make(map[string]connection.Connection, len(p.Connections)),
		in:          make(chan *envelope.Envelope, inCap),
		out:         make(chan *envelope.Envelope, outCap),
		logger:      logger,
		metrics:     m,
		recorder:    p.Recorder,
	}

	for _, c := range p.Connections {
		if _, exists := mx.byID[c.ID()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, c.ID())
		}
		mx.byID[c.ID()] = c
	}

	if p.DefaultConnection == "" {
		mx.defaultConn = p.Connections[0]
	} else {
		c, ok := mx.byID[p.DefaultConnection]
		if !ok {
			return nil, fmt.Errorf("%w: default connection %q", ErrNoRoute, p.DefaultConnection)
		}
		mx.defaultConn = c
	}

	for _, c := range p.Connections {
		if err := c.SetLoop(mx); err != nil {
			return nil, err
		}
	}

	mx.inbox = &Inbox{queue: mx.in}
	mx.outbox = &Outbox{
		queue:   mx.out,
		depth:   func() int { return len(mx.out) },
		metrics: m,
		logger:  logger,
	}
	return mx, nil
}

// Running reports whether the receive and dispatch tasks are active.
func (m *Multiplexer) Running() bool { return m.running.Load() }

// Inbox returns the inbound queue.
func (m *Multiplexer) Inbox() *Inbox { return m.inbox }

// Outbox returns the outbound queue.
func (m *Multiplexer) Outbox() *Outbox { return m.outbox }

// Connections returns the owned connections in configuration order.
func (m *Multiplexer) Connections() []connection.Connection {
	out := make([]connection.Connection, len(m.connections))
	copy(out, m.connections)
	return out
}

// DefaultConnection returns the connection used for unrouted envelopes.
func (m *Multiplexer) DefaultConnection() connection.Connection { return m.defaultConn }

// IsConnected reports whether every connection is connected.
func (m *Multiplexer) IsConnected() bool {
	for _, c := range m.connections {
		if !c.Status().IsConnected() {
			return false
		}
	}
	return true
}

// Connect connects every connection, then starts one receive task per
// connection and the dispatch task. Connect on a running multiplexer is a no-op.
// If any connection fails to connect, the ones already connected are
// disconnected and the error is returned.
func (m *Multiplexer) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return nil
	}

	for i, c := range m.connections {
		if err := c.Connect(ctx); err != nil {
			for _, done := range m.connections[:i] {
				if derr := done.Disconnect(ctx); derr != nil {
					m.logger.Warn("disconnect after failed connect", "connection_id", done.ID(), "error", derr)
				}
			}
			return fmt.Errorf("connecting %s: %w", c.ID(), err)
		}
		m.logger.Debug("connection up", "connection_id", c.ID())
	}

	// Tasks outlive the caller's ctx; Disconnect cancels them.
	runCtx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	for _, c := range m.connections {
		g.Go(func() error {
			m.receiveLoop(runCtx, c)
			return nil
		})
	}
	g.Go(func() error {
		m.dispatchLoop(runCtx)
		return nil
	})

	m.cancel = cancel
	m.group = g
	m.running.Store(true)

	m.logger.Info("multiplexer connected", "connections", len(m.connections))
	return nil
}

// Disconnect disconnects every connection, then cancels and waits for the
// receive and dispatch tasks. Individual disconnect failures are logged and
// not returned. Disconnect on a stopped multiplexer is a no-op.
func (m *Multiplexer) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		return nil
	}

	var errs []error
	for _, c := range m.connections {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, err)
			m.logger.Warn("disconnect failed", "connection_id", c.ID(), "error", err)
		}
	}

	m.cancel()
	_ = m.group.Wait()
	m.cancel = nil
	m.group = nil
	m.running.Store(false)

	m.logger.Info("multiplexer disconnected", "disconnect_errors", len(errs))
	return nil
}

func (m *Multiplexer) receiveLoop(ctx context.Context, c connection.Connection) {
	logger := m.logger.With("connection_id", c.ID())
	for {
		env, err := c.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, connection.ErrClosed) {
				logger.Info("connection closed, receive task ending")
				return
			}
			m.metrics.EnvelopeDropped("receive_failed")
			logger.Error("receive failed, receive task ending", "error", err)
			return
		}
		if env == nil {
			m.metrics.EnvelopeDropped("receive_failed")
			logger.Error("connection returned no envelope and no error, receive task ending")
			return
		}
		// Any connection id decoded from the wire belongs to the peer.
		env = env.WithConnection(c.ID())

		select {
		case m.in <- env:
		case <-ctx.Done():
			return
		}
		m.metrics.EnvelopeReceived(c.ID())
		m.metrics.QueueDepth("inbox", len(m.in))
		m.record(ctx, store.EventDirectionInbound, c.ID(), env)
	}
}

func (m *Multiplexer) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-m.out:
			m.metrics.QueueDepth("outbox", len(m.out))
			m.send(ctx, env)
		}
	}
}

func (m *Multiplexer) route(env *envelope.Envelope) (connection.Connection, error) {
	id := env.ConnectionID()
	if id == "" {
		return m.defaultConn, nil
	}
	c, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: connection %q", ErrNoRoute, id)
	}
	return c, nil
}

func (m *Multiplexer) send(ctx context.Context, env *envelope.Envelope) {
	c, err := m.route(env)
	if err != nil {
		m.metrics.EnvelopeDropped("no_route")
		m.logger.Error("dropping envelope",
			"to", env.To(),
			"protocol_id", env.ProtocolID(),
			"error", err,
		)
		return
	}

	if err := c.Send(ctx, env); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.EnvelopeDropped("send_failed")
		m.logger.Error("send failed",
			"connection_id", c.ID(),
			"to", env.To(),
			"error", err,
		)
		return
	}
	m.metrics.EnvelopeSent(c.ID())
	m.record(ctx, store.EventDirectionOutbound, c.ID(), env)
}

func (m *Multiplexer) record(ctx context.Context, dir store.EventDirection, connectionID string, env *envelope.Envelope) {
	if m.recorder == nil {
		return
	}
	event := &store.EnvelopeEvent{
		Direction:    dir,
		ConnectionID: connectionID,
		Sender:       env.Sender(),
		To:           env.To(),
		ProtocolID:   env.ProtocolID(),
		Size:         env.Size(),
		Timestamp:    time.Now().UTC(),
	}
	if err := m.recorder.SaveEnvelopeEvent(ctx, event); err != nil && ctx.Err() == nil {
		m.logger.Warn("recording envelope event", "error", err)
	}
}

var _ connection.Loop = (*Multiplexer)(nil)
