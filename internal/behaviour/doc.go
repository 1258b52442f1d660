// Package behaviour provides the proactive side of an agent: units of logic
// the agent loop drives once per tick.
//
// Variants:
//
//   - OneShot acts once and is done.
//   - Cyclic acts every tick until stopped.
//   - Ticker acts when IsTimeToAct says it is due; the loop enforces timing.
//   - Sequence runs sub-behaviours strictly in order.
//   - FSM runs named states and moves between them on emitted events.
//
// FSM registration errors (ErrDuplicateState, ErrDuplicateTransition) and
// ErrNotStarted indicate wiring bugs. They are returned to the caller and
// leave the machine unchanged.
package behaviour
