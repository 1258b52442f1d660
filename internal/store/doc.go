// Package store provides persistent storage for the agent runtime using SQLite.
//
// # Architecture
//
// Two narrow interfaces make up the Store:
//
//   - EnvelopeLog: audit trail of envelopes crossing the multiplexer
//   - Ledger: balance book used by the ledger transport
//
// SQLiteStore implements both in a single struct. MockStore is an in-memory
// implementation with the same semantics for tests.
//
// # Schema
//
// Tables are created on open and additive migrations are applied by checking
// pragma_table_info before altering. The database runs in WAL mode.
//
//   - envelope_events: one row per envelope, payload size only
//   - balances: (ledger_id, address) -> amount
//   - transfers: committed transfer receipts
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/agent-runtime/runtime.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	_ = s.Credit(ctx, "fetchai", "alice", 100)
//	receipt, err := s.Transfer(ctx, store.Transfer{LedgerID: "fetchai", From: "alice", To: "bob", Amount: 40})
package store
