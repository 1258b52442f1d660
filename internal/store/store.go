// ABOUTME: Store interface and data types for agent-runtime persistence
// ABOUTME: Defines the envelope event log and the local ledger balance book

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds is returned when a transfer exceeds the sender's balance
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount is returned for zero or negative amounts
	ErrInvalidAmount = errors.New("amount must be positive")
)

// EventDirection indicates whether an envelope entered or left the agent
type EventDirection string

const (
	EventDirectionInbound  EventDirection = "inbound"
	EventDirectionOutbound EventDirection = "outbound"
)

// EnvelopeEvent is one envelope crossing the multiplexer, kept for audit.
// The payload itself is not stored, only its size.
type EnvelopeEvent struct {
	ID           string
	Direction    EventDirection
	ConnectionID string
	Sender       string
	To           string
	ProtocolID   string
	Size         int
	Timestamp    time.Time
}

// GetEnvelopeEventsParams filters envelope events.
type GetEnvelopeEventsParams struct {
	Address string     // Optional: events where Address is sender or recipient
	Since   *time.Time // Optional: only events at or after this timestamp
	Limit   int        // 1-500, defaults to 50
}

// Transfer moves Amount from From to To on LedgerID.
type Transfer struct {
	LedgerID string
	From     string
	To       string
	Amount   int64
}

// Receipt confirms a committed transfer.
type Receipt struct {
	TxID      string
	Transfer  Transfer
	Timestamp time.Time
}

// EnvelopeLog records envelopes for audit.
type EnvelopeLog interface {
	SaveEnvelopeEvent(ctx context.Context, event *EnvelopeEvent) error
	GetEnvelopeEvents(ctx context.Context, params GetEnvelopeEventsParams) ([]*EnvelopeEvent, error)
}

// Ledger is a balance book keyed by ledger id and address.
type Ledger interface {
	Balance(ctx context.Context, ledgerID, address string) (int64, error)
	Credit(ctx context.Context, ledgerID, address string, amount int64) error
	Transfer(ctx context.Context, t Transfer) (*Receipt, error)
}

// Store is the complete persistence interface.
type Store interface {
	EnvelopeLog
	Ledger
	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// timestampFormat is fixed width so stored timestamps sort lexically.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"
