// ABOUTME: Behaviour interface and the simple variants: one-shot, cyclic and ticker
// ABOUTME: Behaviours are driven once per tick by the agent loop, never by themselves

package behaviour

import (
	"context"
	"time"
)

// Behaviour is a unit of proactive agent logic.
//
// The agent loop calls Setup once before the first tick, Act at most once per
// tick while IsDone is false, and Teardown once on stop. Act must not block;
// blocking work belongs in the worker pool.
type Behaviour interface {
	Name() string
	Setup() error
	Act(ctx context.Context) error
	IsDone() bool
	Teardown() error
}

// Scheduled is implemented by behaviours that should only act when due.
type Scheduled interface {
	IsTimeToAct(now time.Time) bool
}

// ActFunc is the body of a behaviour.
type ActFunc func(ctx context.Context) error

// Base supplies Name and no-op Setup/Teardown for behaviours to embed.
type Base struct {
	name string
}

// NewBase returns a Base named name.
func NewBase(name string) Base { return Base{name: name} }

// Name returns the behaviour name.
func (b Base) Name() string { return b.name }

// Setup does nothing.
func (b Base) Setup() error { return nil }

// Teardown does nothing.
func (b Base) Teardown() error { return nil }

// OneShot runs its act function exactly once.
type OneShot struct {
	Base
	act  ActFunc
	done bool
}

// NewOneShot creates a one-shot behaviour.
func NewOneShot(name string, act ActFunc) *OneShot {
	return &OneShot{Base: NewBase(name), act: act}
}

// Act runs the act function if it has not run yet. The behaviour is done
// afterwards even if the function failed.
func (o *OneShot) Act(ctx context.Context) error {
	if o.done {
		return nil
	}
	o.done = true
	if o.act == nil {
		return nil
	}
	return o.act(ctx)
}

// IsDone reports whether Act has run.
func (o *OneShot) IsDone() bool { return o.done }

// Cyclic acts on every tick until stopped.
type Cyclic struct {
	Base
	act     ActFunc
	ticks   int
	stopped bool
}

// NewCyclic creates a cyclic behaviour.
func NewCyclic(name string, act ActFunc) *Cyclic {
	return &Cyclic{Base: NewBase(name), act: act}
}

// Act runs the act function and counts the tick.
func (c *Cyclic) Act(ctx context.Context) error {
	c.ticks++
	if c.act == nil {
		return nil
	}
	return c.act(ctx)
}

// TickCount returns how many times Act has run.
func (c *Cyclic) TickCount() int { return c.ticks }

// Stop marks the behaviour done.
func (c *Cyclic) Stop() { c.stopped = true }

// IsDone reports whether Stop was called.
func (c *Cyclic) IsDone() bool { return c.stopped }

// TickerOption configures a Ticker.
type TickerOption func(*Ticker)

// WithStartDelay postpones the first act by d after Setup.
func WithStartDelay(d time.Duration) TickerOption {
	return func(t *Ticker) { t.startDelay = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TickerOption {
	return func(t *Ticker) { t.now = now }
}

// Ticker acts periodically. It does not enforce its interval: the agent loop
// asks IsTimeToAct before calling Act.
type Ticker struct {
	Cyclic
	interval   time.Duration
	startDelay time.Duration
	startAt    time.Time
	lastAct    time.Time
	now        func() time.Time
}

// NewTicker creates a ticker acting every interval.
func NewTicker(name string, interval time.Duration, act ActFunc, opts ...TickerOption) *Ticker {
	t := &Ticker{
		Cyclic:   Cyclic{Base: NewBase(name), act: act},
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.startAt = t.now().Add(t.startDelay)
	return t
}

// TickInterval returns the interval between acts.
func (t *Ticker) TickInterval() time.Duration { return t.interval }

// StartAt returns the earliest time of the first act.
func (t *Ticker) StartAt() time.Time { return t.startAt }

// LastActTime returns when Act last ran, zero if never.
func (t *Ticker) LastActTime() time.Time { return t.lastAct }

// Setup restarts the start delay from now.
func (t *Ticker) Setup() error {
	t.startAt = t.now().Add(t.startDelay)
	return nil
}

// IsTimeToAct reports whether the ticker is due at now.
func (t *Ticker) IsTimeToAct(now time.Time) bool {
	if t.lastAct.IsZero() {
		return !now.Before(t.startAt)
	}
	return now.Sub(t.lastAct) >= t.interval
}

// Act records the act time and runs the act function.
func (t *Ticker) Act(ctx context.Context) error {
	t.lastAct = t.now()
	return t.Cyclic.Act(ctx)
}

var (
	_ Behaviour = (*OneShot)(nil)
	_ Behaviour = (*Cyclic)(nil)
	_ Behaviour = (*Ticker)(nil)
	_ Scheduled = (*Ticker)(nil)
)
