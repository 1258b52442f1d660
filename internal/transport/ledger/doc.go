// Package ledger is a connection that talks to ledgers rather than agents.
//
// Agents address ledger API requests (get_balance, transfer) to the
// connection's address and route them here through the envelope context.
// Each request is validated against the connection's own dialogue registry,
// the ledger call runs on a worker pool, and the balance, transaction_receipt
// or error reply is returned through Receive like any inbound envelope.
//
// Ledgers are looked up in an explicit Registry built at assembly time.
package ledger
