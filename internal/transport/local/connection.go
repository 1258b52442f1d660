// ABOUTME: Connection that attaches an agent address to a shared in-process Node
// ABOUTME: Used by tests and by multi-agent processes that need no network

package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/envelope"
)

// TypeName is the connection type this package registers.
const TypeName = "local"

// Connection subscribes its address on a Node.
type Connection struct {
	connection.Base

	node    *Node
	address string
	logger  *slog.Logger

	mu     sync.Mutex
	inbox  <-chan *envelope.Envelope
	subID  string
	cancel context.CancelFunc
}

// NewConnection creates a connection for address on node.
func NewConnection(id, address string, node *Node, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		Base:    connection.NewBase(id),
		node:    node,
		address: address,
		logger:  logger.With("component", "local_connection", "address", address),
	}
}

// Address returns the address this connection receives for.
func (c *Connection) Address() string { return c.address }

// Connect subscribes to the node. Connecting twice is a no-op.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status().IsConnected() {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.Background())
	ch, subID, err := c.node.Subscribe(subCtx, c.address)
	if err != nil {
		cancel()
		return connection.NewTransportError(c.ID(), "connect", err)
	}
	c.inbox, c.subID, c.cancel = ch, subID, cancel
	c.Status().SetConnected(true)
	c.logger.Debug("connected")
	return nil
}

// Disconnect drops the subscription. Safe to call repeatedly.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.Status().SetConnected(false)
	c.node.Unsubscribe(c.address, c.subID)
	c.cancel()
	c.cancel = nil
	c.logger.Debug("disconnected")
	return nil
}

// Send publishes env on the node.
func (c *Connection) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := c.RequireConnected("send"); err != nil {
		return err
	}
	if _, err := c.node.Publish(env); err != nil {
		return connection.NewTransportError(c.ID(), "send", err)
	}
	return nil
}

// Receive waits for the next envelope addressed to this connection.
func (c *Connection) Receive(ctx context.Context) (*envelope.Envelope, error) {
	c.mu.Lock()
	inbox := c.inbox
	c.mu.Unlock()
	if inbox == nil {
		return nil, connection.ErrClosed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case env, ok := <-inbox:
		if !ok {
			return nil, connection.ErrClosed
		}
		return env, nil
	}
}

// Register adds the "local" connection type, bound to node, to r.
// The optional "address" config key overrides the agent address.
func Register(r *connection.Registry, node *Node) error {
	if node == nil {
		return errors.New("local node is required")
	}
	return r.Register(TypeName, func(id string, identity connection.Identity, cfg connection.Config, logger *slog.Logger) (connection.Connection, error) {
		address := cfg.String("address", identity.Address)
		if address == "" {
			return nil, fmt.Errorf("%w: address is required", connection.ErrBadConfig)
		}
		return NewConnection(id, address, node, logger), nil
	})
}
