// ABOUTME: Tests for the SQLite store and MockStore
// ABOUTME: Runs the same envelope log and ledger cases against both implementations

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.Credit(context.Background(), "fetchai", "alice", 7))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	bal, err := s2.Balance(context.Background(), "fetchai", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)
}

// implementations returns a fresh instance of every Store implementation.
func implementations(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"mock":   NewMockStore(),
	}
}

func TestEnvelopeEvents(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

			events := []*EnvelopeEvent{
				{Direction: EventDirectionOutbound, ConnectionID: "local", Sender: "alice", To: "bob", ProtocolID: "fetchai/default:0.1.0", Size: 10, Timestamp: base},
				{Direction: EventDirectionInbound, ConnectionID: "local", Sender: "bob", To: "alice", ProtocolID: "fetchai/default:0.1.0", Size: 12, Timestamp: base.Add(time.Second)},
				{Direction: EventDirectionInbound, ConnectionID: "stub", Sender: "carol", To: "dave", ProtocolID: "fetchai/default:0.1.0", Size: 3, Timestamp: base.Add(2 * time.Second)},
			}
			for _, e := range events {
				require.NoError(t, s.SaveEnvelopeEvent(ctx, e))
				assert.NotEmpty(t, e.ID)
			}

			all, err := s.GetEnvelopeEvents(ctx, GetEnvelopeEventsParams{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "alice", all[0].Sender)
			assert.Equal(t, "carol", all[2].Sender)
			assert.Equal(t, EventDirectionInbound, all[1].Direction)
			assert.Equal(t, 12, all[1].Size)
			assert.True(t, all[1].Timestamp.Equal(base.Add(time.Second)))

			alice, err := s.GetEnvelopeEvents(ctx, GetEnvelopeEventsParams{Address: "alice"})
			require.NoError(t, err)
			assert.Len(t, alice, 2)

			since := base.Add(time.Second)
			recent, err := s.GetEnvelopeEvents(ctx, GetEnvelopeEventsParams{Since: &since})
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			limited, err := s.GetEnvelopeEvents(ctx, GetEnvelopeEventsParams{Limit: 1})
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "alice", limited[0].Sender)
		})
	}
}

func TestLedger(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			bal, err := s.Balance(ctx, "fetchai", "alice")
			require.NoError(t, err)
			assert.Equal(t, int64(0), bal, "unknown address has zero balance")

			require.NoError(t, s.Credit(ctx, "fetchai", "alice", 100))
			require.NoError(t, s.Credit(ctx, "fetchai", "alice", 5))
			assert.ErrorIs(t, s.Credit(ctx, "fetchai", "alice", 0), ErrInvalidAmount)

			receipt, err := s.Transfer(ctx, Transfer{LedgerID: "fetchai", From: "alice", To: "bob", Amount: 40})
			require.NoError(t, err)
			assert.NotEmpty(t, receipt.TxID)
			assert.Equal(t, int64(40), receipt.Transfer.Amount)

			alice, _ := s.Balance(ctx, "fetchai", "alice")
			bob, _ := s.Balance(ctx, "fetchai", "bob")
			assert.Equal(t, int64(65), alice)
			assert.Equal(t, int64(40), bob)

			// Balances are per ledger
			other, _ := s.Balance(ctx, "ethereum", "bob")
			assert.Equal(t, int64(0), other)

			_, err = s.Transfer(ctx, Transfer{LedgerID: "fetchai", From: "bob", To: "alice", Amount: 41})
			assert.ErrorIs(t, err, ErrInsufficientFunds)

			// Failed transfer leaves balances untouched
			alice, _ = s.Balance(ctx, "fetchai", "alice")
			bob, _ = s.Balance(ctx, "fetchai", "bob")
			assert.Equal(t, int64(65), alice)
			assert.Equal(t, int64(40), bob)

			_, err = s.Transfer(ctx, Transfer{LedgerID: "fetchai", From: "bob", To: "alice", Amount: -1})
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}
