// ABOUTME: Agent drives the tick loop: drain worker results, react to envelopes, act behaviours
// ABOUTME: Everything that touches handlers, dialogues and behaviours runs on this one loop

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agent-runtime/internal/behaviour"
	"github.com/2389/agent-runtime/internal/dialogue"
	"github.com/2389/agent-runtime/internal/envelope"
	"github.com/2389/agent-runtime/internal/mux"
	"github.com/2389/agent-runtime/internal/pool"
	"github.com/2389/agent-runtime/internal/protocol"
)

// Defaults for Params.
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultMaxReactions = 20
	shutdownTimeout     = 5 * time.Second
)

// Agent errors
var (
	ErrMissingAddress   = errors.New("agent address is required")
	ErrNoMultiplexer    = errors.New("agent multiplexer is required")
	ErrDuplicateHandler = errors.New("handler already registered for protocol")
	ErrAlreadyStarted   = errors.New("agent already started")
)

// Metrics receives agent-loop observations. The metrics collector implements it.
type Metrics interface {
	HandlerInvoked(protocolID string, performative protocol.Performative)
	BehaviourActed(name string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) HandlerInvoked(string, protocol.Performative) {}
func (noopMetrics) BehaviourActed(string, time.Duration, error)  {}

// Params configures an Agent.
type Params struct {
	Name        string
	Address     string
	Multiplexer *mux.Multiplexer
	// Pool runs blocking work. When nil the agent creates and owns one.
	Pool         *pool.Pool
	TickInterval time.Duration
	// MaxReactions bounds the envelopes handled per tick.
	MaxReactions int
	Metrics      Metrics
	// DialogueObserver is told about every dialogue ended by a DialogueHandler.
	DialogueObserver dialogue.Observer
	Logger           *slog.Logger
	Clock            func() time.Time
}

// TickStats reports what one tick did.
type TickStats struct {
	Callbacks int
	Reactions int
	Acted     int
}

// Agent owns a multiplexer, its handlers and its behaviours.
type Agent struct {
	name         string
	address      string
	mux          *mux.Multiplexer
	pool         *pool.Pool
	ownsPool     bool
	tickInterval time.Duration
	maxReactions int
	metrics      Metrics
	now          func() time.Time
	logger       *slog.Logger

	ctx        *Context
	handlers   map[string]Handler
	behaviours []behaviour.Behaviour
	started    bool
}

// New assembles an agent.
func New(p Params) (*Agent, error) {
	if p.Address == "" {
		return nil, ErrMissingAddress
	}
	if p.Multiplexer == nil {
		return nil, ErrNoMultiplexer
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := p.Name
	if name == "" {
		name = p.Address
	}
	logger = logger.With("component", "agent", "agent", name)

	a := &Agent{
		name:         name,
		address:      p.Address,
		mux:          p.Multiplexer,
		pool:         p.Pool,
		tickInterval: p.TickInterval,
		maxReactions: p.MaxReactions,
		metrics:      p.Metrics,
		now:          p.Clock,
		logger:       logger,
		handlers:     make(map[string]Handler),
	}
	if a.pool == nil {
		cfg := pool.DefaultConfig()
		cfg.Logger = logger
		a.pool = pool.New(cfg)
		a.ownsPool = true
	}
	if a.tickInterval <= 0 {
		a.tickInterval = DefaultTickInterval
	}
	if a.maxReactions <= 0 {
		a.maxReactions = DefaultMaxReactions
	}
	if a.metrics == nil {
		a.metrics = noopMetrics{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.ctx = newContext(name, p.Address, p.Multiplexer.Outbox(), a.pool, logger)
	a.ctx.observer = p.DialogueObserver
	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Address returns the agent address.
func (a *Agent) Address() string { return a.address }

// Context returns the context handed to handlers and behaviours.
func (a *Agent) Context() *Context { return a.ctx }

// Multiplexer returns the agent's multiplexer.
func (a *Agent) Multiplexer() *mux.Multiplexer { return a.mux }

// AddHandler registers h for its protocol.
func (a *Agent) AddHandler(h Handler) error {
	id := h.ProtocolID()
	if _, exists := a.handlers[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, id)
	}
	a.handlers[id] = h
	return nil
}

// Handler returns the handler registered for protocolID.
func (a *Agent) Handler(protocolID string) (Handler, bool) {
	h, ok := a.handlers[protocolID]
	return h, ok
}

// AddBehaviour appends b to the behaviours acted each tick. A behaviour
// added after Setup is set up immediately.
func (a *Agent) AddBehaviour(b behaviour.Behaviour) error {
	if a.started {
		if err := b.Setup(); err != nil {
			return fmt.Errorf("setting up behaviour %s: %w", b.Name(), err)
		}
	}
	a.behaviours = append(a.behaviours, b)
	return nil
}

// Behaviours returns the registered behaviours in order.
func (a *Agent) Behaviours() []behaviour.Behaviour {
	out := make([]behaviour.Behaviour, len(a.behaviours))
	copy(out, a.behaviours)
	return out
}

// Setup prepares every behaviour. It must run once before the first Tick.
func (a *Agent) Setup() error {
	if a.started {
		return ErrAlreadyStarted
	}
	for _, b := range a.behaviours {
		if err := b.Setup(); err != nil {
			return fmt.Errorf("setting up behaviour %s: %w", b.Name(), err)
		}
	}
	a.started = true
	return nil
}

// Teardown tears behaviours down in reverse order.
func (a *Agent) Teardown() error {
	var errs []error
	for i := len(a.behaviours) - 1; i >= 0; i-- {
		b := a.behaviours[i]
		if err := b.Teardown(); err != nil {
			a.logger.Error("behaviour teardown failed", "behaviour", b.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	a.started = false
	return errors.Join(errs...)
}

// Tick runs one iteration of the agent loop.
func (a *Agent) Tick(ctx context.Context) TickStats {
	var st TickStats
	st.Callbacks = a.pool.Drain()

	inbox := a.mux.Inbox()
	for st.Reactions < a.maxReactions {
		env, ok := inbox.GetNowait()
		if !ok {
			break
		}
		a.react(ctx, env)
		st.Reactions++
	}

	now := a.now()
	for _, b := range a.behaviours {
		if b.IsDone() {
			continue
		}
		if s, ok := b.(behaviour.Scheduled); ok && !s.IsTimeToAct(now) {
			continue
		}
		start := time.Now()
		err := b.Act(ctx)
		a.metrics.BehaviourActed(b.Name(), time.Since(start), err)
		if err != nil {
			a.logger.Error("behaviour failed", "behaviour", b.Name(), "error", err)
		}
		st.Acted++
	}
	return st
}

func (a *Agent) react(ctx context.Context, env *envelope.Envelope) {
	id := env.ProtocolID()
	h, ok := a.handlers[id]
	if !ok {
		a.logger.Warn("unsupported protocol", "protocol_id", id, "sender", env.Sender())
		a.replyError(env, protocol.ErrorCodeUnsupportedProtocol, "unsupported protocol: "+id)
		return
	}

	m, err := protocol.FromEnvelope(env)
	if err != nil {
		a.logger.Warn("decoding message failed", "protocol_id", id, "sender", env.Sender(), "error", err)
		a.replyError(env, protocol.ErrorCodeDecodingError, err.Error())
		return
	}

	a.metrics.HandlerInvoked(id, m.Performative)
	if err := h.Handle(ctx, env, m); err != nil {
		a.logger.Error("handler failed",
			"protocol_id", id,
			"performative", m.Performative,
			"sender", m.Sender,
			"error", err,
		)
	}
}

func (a *Agent) replyError(env *envelope.Envelope, code protocol.ErrorCode, text string) {
	if err := a.ctx.SendError(env, code, text); err != nil {
		a.logger.Error("sending error reply failed", "to", env.Sender(), "error_code", code, "error", err)
	}
}

// Run connects the multiplexer, sets behaviours up and ticks until ctx ends.
// On return behaviours are torn down, connections closed and the owned
// worker pool stopped.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.mux.Connect(ctx); err != nil {
		return fmt.Errorf("connecting multiplexer: %w", err)
	}
	if err := a.Setup(); err != nil {
		return errors.Join(err, a.stop())
	}
	a.logger.Info("agent started",
		"address", a.address,
		"tick_interval", a.tickInterval,
		"behaviours", len(a.behaviours),
		"handlers", len(a.handlers),
	)

	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return errors.Join(a.Teardown(), a.stop())
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

func (a *Agent) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.mux.Disconnect(ctx)
	if a.ownsPool {
		a.pool.Close()
	}
	return err
}
