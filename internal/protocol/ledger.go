// ABOUTME: The ledger API protocol: balance queries and transfers against a ledger
// ABOUTME: Requests are served by the ledger connection off the agent loop

package protocol

// LedgerProtocolID identifies the ledger API protocol.
const LedgerProtocolID = "fetchai/ledger_api:0.1.0"

// Ledger protocol performatives.
const (
	PerformativeGetBalance         Performative = "get_balance"
	PerformativeBalance            Performative = "balance"
	PerformativeTransfer           Performative = "transfer"
	PerformativeTransactionReceipt Performative = "transaction_receipt"
	PerformativeLedgerError        Performative = "error"
)

// LedgerSpec is the conversation rules of the ledger API protocol.
var LedgerSpec = NewSpec(
	LedgerProtocolID,
	[]Performative{PerformativeGetBalance, PerformativeTransfer},
	[]Performative{PerformativeBalance, PerformativeTransactionReceipt, PerformativeLedgerError},
	map[Performative][]Performative{
		PerformativeGetBalance:         {PerformativeBalance, PerformativeLedgerError},
		PerformativeTransfer:           {PerformativeTransactionReceipt, PerformativeLedgerError},
		PerformativeBalance:            {},
		PerformativeTransactionReceipt: {},
		PerformativeLedgerError:        {},
	},
)

// NewGetBalance builds a balance query for address on ledgerID.
func NewGetBalance(ref DialogueReference, ledgerID, address string) *Message {
	return New(PerformativeGetBalance, ref, StartingMessageID, StartingTarget).
		Set("ledger_id", ledgerID).
		Set("address", address)
}

// NewTransfer builds a transfer request of amount from the sender's account to recipient.
func NewTransfer(ref DialogueReference, ledgerID, from, recipient string, amount int64) *Message {
	return New(PerformativeTransfer, ref, StartingMessageID, StartingTarget).
		Set("ledger_id", ledgerID).
		Set("from", from).
		Set("recipient", recipient).
		Set("amount", amount)
}
