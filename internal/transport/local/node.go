// ABOUTME: In-memory envelope switch that connects agents living in the same process
// ABOUTME: Fans each envelope out to every subscriber of its destination address

package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/agent-runtime/internal/envelope"
)

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// Node errors
var (
	ErrNoSubscriber = errors.New("no subscriber for address")
	ErrNodeClosed   = errors.New("local node closed")
)

// Node is an in-process switch for envelopes. Subscribers register for an
// address and receive every envelope published to it.
type Node struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *envelope.Envelope // address -> subID -> ch
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// NewNode creates a node. bufferSize <= 0 means DefaultBufferSize. Pass nil logger for default.
func NewNode(bufferSize int, logger *slog.Logger) *Node {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		subscribers: make(map[string]map[string]chan *envelope.Envelope),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "local_node"),
	}
}

// Subscribe registers a subscriber for envelopes addressed to address.
// The subscription is removed when ctx is cancelled.
func (n *Node) Subscribe(ctx context.Context, address string) (<-chan *envelope.Envelope, string, error) {
	subID := uuid.New().String()
	ch := make(chan *envelope.Envelope, n.bufferSize)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, "", ErrNodeClosed
	}
	if _, ok := n.subscribers[address]; !ok {
		n.subscribers[address] = make(map[string]chan *envelope.Envelope)
	}
	n.subscribers[address][subID] = ch
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "address", address, "sub_id", subID)

	go func() {
		<-ctx.Done()
		n.Unsubscribe(address, subID)
	}()

	return ch, subID, nil
}

// Publish delivers env to every subscriber of env.To() and returns how many
// received it. Subscribers with a full buffer miss the envelope.
func (n *Node) Publish(env *envelope.Envelope) (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return 0, ErrNodeClosed
	}
	subs := n.subscribers[env.To()]
	if len(subs) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoSubscriber, env.To())
	}

	delivered := 0
	for id, ch := range subs {
		select {
		case ch <- env:
			delivered++
		default:
			n.logger.Warn("dropped envelope for slow subscriber",
				"address", env.To(),
				"sub_id", id)
		}
	}
	return delivered, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (n *Node) Unsubscribe(address, subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subscribers[address]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(n.subscribers, address)
	}

	n.logger.Debug("subscriber removed", "address", address, "sub_id", subID)
}

// Addresses returns the addresses with at least one subscriber, sorted.
func (n *Node) Addresses() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.subscribers))
	for addr := range n.subscribers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Close shuts the node down and closes every subscriber channel.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.closed = true
	for addr, subs := range n.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(n.subscribers, addr)
	}
	n.logger.Debug("local node closed")
}
