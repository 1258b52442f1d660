// ABOUTME: Local ledger balance book backing the ledger transport
// ABOUTME: Balances are per (ledger, address); transfers run in a single SQL transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Balance returns the balance for address on ledgerID. Unknown addresses have balance zero.
func (s *SQLiteStore) Balance(ctx context.Context, ledgerID, address string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE ledger_id = ? AND address = ?`,
		ledgerID, address,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return amount, nil
}

// Credit adds amount to the address balance.
func (s *SQLiteStore) Credit(ctx context.Context, ledgerID, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (ledger_id, address, amount, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ledger_id, address) DO UPDATE SET
			amount = amount + excluded.amount,
			updated_at = excluded.updated_at
	`, ledgerID, address, amount, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("crediting balance: %w", err)
	}
	return nil
}

// Transfer debits From and credits To atomically.
func (s *SQLiteStore) Transfer(ctx context.Context, t Transfer) (*Receipt, error) {
	if t.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var available int64
	err = tx.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE ledger_id = ? AND address = ?`,
		t.LedgerID, t.From,
	).Scan(&available)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying sender balance: %w", err)
	}
	if available < t.Amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, available, t.Amount)
	}

	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx,
		`UPDATE balances SET amount = amount - ?, updated_at = ? WHERE ledger_id = ? AND address = ?`,
		t.Amount, stamp, t.LedgerID, t.From,
	); err != nil {
		return nil, fmt.Errorf("debiting sender: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (ledger_id, address, amount, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ledger_id, address) DO UPDATE SET
			amount = amount + excluded.amount,
			updated_at = excluded.updated_at
	`, t.LedgerID, t.To, t.Amount, stamp); err != nil {
		return nil, fmt.Errorf("crediting recipient: %w", err)
	}

	receipt := &Receipt{TxID: uuid.New().String(), Transfer: t, Timestamp: now}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (tx_id, ledger_id, sender, recipient, amount, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.TxID, t.LedgerID, t.From, t.To, t.Amount, stamp,
	); err != nil {
		return nil, fmt.Errorf("recording transfer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer: %w", err)
	}

	s.logger.Debug("transfer committed",
		"tx_id", receipt.TxID,
		"ledger_id", t.LedgerID,
		"amount", t.Amount,
	)
	return receipt, nil
}
