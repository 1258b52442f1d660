// ABOUTME: Connection that answers ledger API requests instead of reaching another agent
// ABOUTME: Blocking ledger calls run on a worker pool; replies flow back through Receive

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/pool"
	"github.com/2389/agent-runtime/internal/protocol"
	"github.com/2389/agent-runtime/internal/store"
)

// TypeName is the connection type this package registers.
const TypeName = "ledger"

// DefaultAddress is the address agents send ledger requests to.
const DefaultAddress = "fetchai/ledger:0.1.0"

// ErrUnsupportedProtocol is returned by Send for envelopes of another protocol.
var ErrUnsupportedProtocol = errors.New("ledger connection only serves the ledger api protocol")

// Options configures a ledger Connection.
type Options struct {
	Address   string
	Ledgers   *Registry
	Workers   int
	QueueSize int
	Metrics   pool.Metrics
}

// Connection serves ledger requests.
type Connection struct {
	connection.Base

	address string
	ledgers *Registry
	poolCfg pool.Config
	logger  *slog.Logger

	// dialogues is touched by Send and by pool callbacks.
	dmu       sync.Mutex
	dialogues *dialogue.Dialogues

	mu        sync.Mutex
	pool      *pool.Pool
	responses chan *envelope.Envelope
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a ledger connection.
func New(id string, opts Options, logger *slog.Logger) (*Connection, error) {
	if opts.Ledgers == nil {
		return nil, fmt.Errorf("%w: ledger registry is required", connection.ErrBadConfig)
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger_connection")

	cfg := pool.DefaultConfig()
	if opts.Workers > 0 {
		cfg.MaxWorkers = opts.Workers
	}
	if opts.QueueSize > 0 {
		cfg.QueueSize = opts.QueueSize
	}
	cfg.Metrics = opts.Metrics
	cfg.Logger = logger

	return &Connection{
		Base:      connection.NewBase(id),
		address:   opts.Address,
		ledgers:   opts.Ledgers,
		poolCfg:   cfg,
		logger:    logger,
		dialogues: dialogue.New(opts.Address, protocol.LedgerSpec, dialogue.WithLogger(logger)),
	}, nil
}

// Address returns the address the connection answers for.
func (c *Connection) Address() string { return c.address }

// Connect starts the worker pool.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status().IsConnected() {
		return nil
	}

	p := pool.New(c.poolCfg)
	done := make(chan struct{})
	c.pool = p
	c.responses = make(chan *envelope.Envelope, 64)
	c.done = done

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-done:
				return
			case <-p.Ready():
				p.Drain()
			}
		}
	}()

	c.Status().SetConnected(true)
	c.logger.Info("ledger connection up", "ledgers", c.ledgers.IDs())
	return nil
}

// Disconnect stops the pool. Requests still in flight are abandoned.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return nil
	}
	c.Status().SetConnected(false)
	close(c.done)
	c.wg.Wait()
	c.pool.Close()
	c.done = nil
	c.logger.Info("ledger connection down")
	return nil
}

// Send accepts a ledger request. The reply arrives later through Receive.
func (c *Connection) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := c.RequireConnected("send"); err != nil {
		return err
	}
	if env.ProtocolID() != protocol.LedgerProtocolID {
		return connection.NewTransportError(c.ID(), "send", fmt.Errorf("%w: %s", ErrUnsupportedProtocol, env.ProtocolID()))
	}
	m, err := protocol.FromEnvelope(env)
	if err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}

	c.dmu.Lock()
	d, err := c.dialogues.Update(m)
	c.dmu.Unlock()
	if err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}

	c.mu.Lock()
	p, out := c.pool, replyTo{responses: c.responses, done: c.done}
	c.mu.Unlock()
	if p == nil {
		return connection.NewTransportError(c.ID(), "send", connection.ErrNotConnected)
	}

	ledgerID := m.Text("ledger_id")
	api, err := c.ledgers.Get(ledgerID)
	if err != nil {
		c.respond(d, ledgerID, nil, err, out)
		return nil
	}

	var task pool.Task
	switch m.Performative {
	case protocol.PerformativeGetBalance:
		address := m.Text("address")
		task = func(ctx context.Context) (any, error) {
			return api.Balance(ctx, address)
		}
	case protocol.PerformativeTransfer:
		from := m.Text("from")
		if from == "" {
			from = m.Sender
		}
		if from != m.Sender {
			c.respond(d, ledgerID, nil, fmt.Errorf("cannot transfer from %s on behalf of %s", from, m.Sender), out)
			return nil
		}
		amount, ok := m.Int("amount")
		if !ok {
			c.respond(d, ledgerID, nil, store.ErrInvalidAmount, out)
			return nil
		}
		recipient := m.Text("recipient")
		task = func(ctx context.Context) (any, error) {
			return api.Transfer(ctx, from, recipient, amount)
		}
	default:
		c.respond(d, ledgerID, nil, fmt.Errorf("performative %s is not a request", m.Performative), out)
		return nil
	}

	if err := p.Submit(task, func(result any, err error) {
		c.respond(d, ledgerID, result, err, out)
	}); err != nil {
		c.respond(d, ledgerID, nil, err, out)
	}
	return nil
}

// replyTo is where replies of one connected session go.
type replyTo struct {
	responses chan<- *envelope.Envelope
	done      <-chan struct{}
}

// respond answers the request held by d.
func (c *Connection) respond(d *dialogue.Dialogue, ledgerID string, result any, err error, out replyTo) {
	c.dmu.Lock()
	var reply *protocol.Message
	switch r := result.(type) {
	case int64:
		if err == nil {
			reply = d.Reply(protocol.PerformativeBalance).
				Set("ledger_id", ledgerID).
				Set("balance", r)
		}
	case *store.Receipt:
		if err == nil {
			reply = d.Reply(protocol.PerformativeTransactionReceipt).
				Set("ledger_id", ledgerID).
				Set("tx_id", r.TxID).
				Set("from", r.Transfer.From).
				Set("recipient", r.Transfer.To).
				Set("amount", r.Transfer.Amount)
		}
	}
	if reply == nil {
		msg := "unexpected result"
		if err != nil {
			msg = err.Error()
		}
		reply = d.Reply(protocol.PerformativeLedgerError).
			Set("ledger_id", ledgerID).
			Set("message", msg)
	}
	_, uerr := c.dialogues.Update(reply)
	c.dmu.Unlock()
	if uerr != nil {
		c.logger.Error("ledger reply rejected by dialogue", "to", reply.To, "error", uerr)
		return
	}

	env, err := protocol.ToEnvelope(protocol.LedgerProtocolID, reply)
	if err != nil {
		c.logger.Error("encoding ledger reply", "error", err)
		return
	}
	select {
	case out.responses <- env:
	case <-out.done:
	}
}

// Receive returns the next ledger reply.
func (c *Connection) Receive(ctx context.Context) (*envelope.Envelope, error) {
	c.mu.Lock()
	responses, done := c.responses, c.done
	c.mu.Unlock()
	if done == nil {
		return nil, connection.ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, connection.ErrClosed
	case env := <-responses:
		return env, nil
	}
}

// Register adds the "ledger" connection type, serving ledgers, to r.
//
// Config keys: address, workers, queue_size.
func Register(r *connection.Registry, ledgers *Registry, metrics pool.Metrics) error {
	return r.Register(TypeName, func(id string, _ connection.Identity, cfg connection.Config, logger *slog.Logger) (connection.Connection, error) {
		return New(id, Options{
			Address:   cfg.String("address", DefaultAddress),
			Ledgers:   ledgers,
			Workers:   cfg.Int("workers", 0),
			QueueSize: cfg.Int("queue_size", 0),
			Metrics:   metrics,
		}, logger)
	})
}
