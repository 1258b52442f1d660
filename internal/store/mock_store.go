// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	events   []*EnvelopeEvent
	balances map[string]int64 // keyed by "ledgerID:address"
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		balances: make(map[string]int64),
	}
}

func balanceKey(ledgerID, address string) string {
	return ledgerID + ":" + address
}

// SaveEnvelopeEvent stores a copy of the event.
func (m *MockStore) SaveEnvelopeEvent(ctx context.Context, event *EnvelopeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	// Make a copy to avoid external modification
	e := *event
	m.events = append(m.events, &e)
	return nil
}

// GetEnvelopeEvents returns matching events in timestamp order.
func (m *MockStore) GetEnvelopeEvents(ctx context.Context, params GetEnvelopeEventsParams) ([]*EnvelopeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*EnvelopeEvent
	for _, e := range m.events {
		if params.Address != "" && e.Sender != params.Address && e.To != params.Address {
			continue
		}
		if params.Since != nil && e.Timestamp.Before(*params.Since) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit := clampLimit(params.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Balance returns the stored balance, zero when unknown.
func (m *MockStore) Balance(ctx context.Context, ledgerID, address string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[balanceKey(ledgerID, address)], nil
}

// Credit adds amount to the address balance.
func (m *MockStore) Credit(ctx context.Context, ledgerID, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey(ledgerID, address)] += amount
	return nil
}

// Transfer moves funds between two addresses.
func (m *MockStore) Transfer(ctx context.Context, t Transfer) (*Receipt, error) {
	if t.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	from := balanceKey(t.LedgerID, t.From)
	if m.balances[from] < t.Amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, m.balances[from], t.Amount)
	}
	m.balances[from] -= t.Amount
	m.balances[balanceKey(t.LedgerID, t.To)] += t.Amount

	return &Receipt{TxID: uuid.New().String(), Transfer: t, Timestamp: time.Now().UTC()}, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
