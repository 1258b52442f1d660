// ABOUTME: Balance watch skill: periodically queries the agent's balance over the ledger protocol
// ABOUTME: Answers are tracked so the latest balance can be read back by other code

package skills

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2389/agent-runtime/internal/agent"
	"github.com/2389/agent-runtime/internal/behaviour"
	"github.com/2389/agent-runtime/internal/connection"
	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/protocol"
	"github.com/2389/agent-runtime/internal/transport/ledger"
)

// BalanceWatchSkill is the registry name of the balance watch skill.
const BalanceWatchSkill = "balance_watch"

// DefaultBalanceInterval is how often the balance is queried when unset.
const DefaultBalanceInterval = 10 * time.Second

// Watcher holds the most recent answer of the balance watch skill.
type Watcher struct {
	mu      sync.Mutex
	balance int64
	known   bool
	lastErr string
}

// Balance returns the last reported balance and whether one has arrived.
func (w *Watcher) Balance() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, w.known
}

// LastError returns the text of the last ledger error reply.
func (w *Watcher) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// BalanceWatch builds the balance watch skill. Config keys:
//
//	connection      ledger connection id (required)
//	ledger_id       ledger to query (required)
//	account         address whose balance is read, default the agent address
//	ledger_address  address of the ledger connection, default ledger.DefaultAddress
//	interval        query period, default DefaultBalanceInterval
func BalanceWatch(a *agent.Agent, cfg connection.Config) (*Skill, error) {
	s, _, err := NewBalanceWatch(a, cfg)
	return s, err
}

// NewBalanceWatch is BalanceWatch returning the watcher alongside the skill.
func NewBalanceWatch(a *agent.Agent, cfg connection.Config) (*Skill, *Watcher, error) {
	route, err := cfg.Require("connection")
	if err != nil {
		return nil, nil, err
	}
	ledgerID, err := cfg.Require("ledger_id")
	if err != nil {
		return nil, nil, err
	}
	interval, err := cfg.Duration("interval", DefaultBalanceInterval)
	if err != nil {
		return nil, nil, err
	}
	if interval <= 0 {
		return nil, nil, fmt.Errorf("%w: interval must be positive", connection.ErrBadConfig)
	}

	w := &Watcher{}

	actx := a.Context()
	account := cfg.String("account", actx.Address())
	ledgerAddress := cfg.String("ledger_address", ledger.DefaultAddress)
	logger := actx.Logger().With("skill", BalanceWatchSkill, "ledger_id", ledgerID)

	h := agent.NewDialogueHandler(actx, protocol.LedgerSpec, agent.PerformativeTable{
		protocol.PerformativeBalance: func(_ context.Context, _ *dialogue.Dialogue, m *protocol.Message) error {
			bal, ok := m.Int("balance")
			if !ok {
				return errors.New("balance reply without a balance")
			}
			w.mu.Lock()
			w.balance, w.known = bal, true
			w.mu.Unlock()
			logger.Info("balance", "account", account, "balance", bal)
			return nil
		},
		protocol.PerformativeTransactionReceipt: func(_ context.Context, _ *dialogue.Dialogue, m *protocol.Message) error {
			logger.Info("transaction receipt", "tx_id", m.Text("tx_id"))
			return nil
		},
		protocol.PerformativeLedgerError: func(_ context.Context, _ *dialogue.Dialogue, m *protocol.Message) error {
			w.mu.Lock()
			w.lastErr = m.Text("message")
			w.mu.Unlock()
			logger.Warn("ledger error", "error", m.Text("message"))
			return nil
		},
	})

	query := func(context.Context) error {
		ref := h.Dialogues().NewSelfInitiatedDialogueReference()
		m := protocol.NewGetBalance(ref, ledgerID, account)
		m.To = ledgerAddress
		return actx.SendVia(route, protocol.LedgerProtocolID, m)
	}

	s := &Skill{
		Name:       BalanceWatchSkill,
		Handlers:   []agent.Handler{h},
		Behaviours: []behaviour.Behaviour{behaviour.NewTicker(BalanceWatchSkill, interval, query)},
	}
	return s, w, nil
}
