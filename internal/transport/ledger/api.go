// ABOUTME: Ledger APIs the ledger connection serves, and the registry that names them
// ABOUTME: StoreAPI backs a ledger with the local SQLite balance book

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/2389/agent-runtime/internal/store"
)

// Registry errors
var (
	ErrUnknownLedger   = errors.New("unknown ledger")
	ErrDuplicateLedger = errors.New("ledger already registered")
)

// API is one ledger's query and transfer surface. Calls may block.
type API interface {
	Balance(ctx context.Context, address string) (int64, error)
	Transfer(ctx context.Context, from, to string, amount int64) (*store.Receipt, error)
}

// Registry maps ledger ids to APIs. It is built at assembly time and passed
// to the connections that need it.
type Registry struct {
	mu   sync.RWMutex
	apis map[string]API
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{apis: make(map[string]API)}
}

// Register adds api under ledgerID.
func (r *Registry) Register(ledgerID string, api API) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.apis[ledgerID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateLedger, ledgerID)
	}
	r.apis[ledgerID] = api
	return nil
}

// Get returns the API registered under ledgerID.
func (r *Registry) Get(ledgerID string) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	api, ok := r.apis[ledgerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLedger, ledgerID)
	}
	return api, nil
}

// IDs returns the registered ledger ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.apis))
	for id := range r.apis {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StoreAPI serves one ledger id from a store balance book.
type StoreAPI struct {
	ledgerID string
	book     store.Ledger
}

// NewStoreAPI creates an API for ledgerID backed by book.
func NewStoreAPI(ledgerID string, book store.Ledger) *StoreAPI {
	return &StoreAPI{ledgerID: ledgerID, book: book}
}

// Balance returns the balance of address.
func (a *StoreAPI) Balance(ctx context.Context, address string) (int64, error) {
	return a.book.Balance(ctx, a.ledgerID, address)
}

// Transfer moves amount from one address to another.
func (a *StoreAPI) Transfer(ctx context.Context, from, to string, amount int64) (*store.Receipt, error) {
	return a.book.Transfer(ctx, store.Transfer{
		LedgerID: a.ledgerID,
		From:     from,
		To:       to,
		Amount:   amount,
	})
}
