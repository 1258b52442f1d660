// ABOUTME: Finite-state-machine behaviour over named sub-behaviour states
// ABOUTME: Transitions are keyed by (state, event); a missing transition keeps the current state

package behaviour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// FSM errors. All are wiring errors returned directly to the caller.
var (
	ErrDuplicateState      = errors.New("state already registered")
	ErrDuplicateTransition = errors.New("transition already registered")
	ErrNotStarted          = errors.New("fsm has no initial state")
	ErrUnknownState        = errors.New("unknown state")
	ErrUnknownTransition   = errors.New("unknown transition")
)

// State is a behaviour that reports the event it produced once done.
// An empty event means none.
type State interface {
	Behaviour
	Event() string
}

// Resetter is implemented by states that must be re-armed each time the
// machine enters them.
type Resetter interface {
	Reset()
}

// StateFunc is the body of a FuncState. It returns the event to emit.
type StateFunc func(ctx context.Context) (event string, err error)

// FuncState runs its function once per entry and is then done.
type FuncState struct {
	Base
	fn    StateFunc
	event string
	done  bool
}

// NewState creates a state from fn.
func NewState(name string, fn StateFunc) *FuncState {
	return &FuncState{Base: NewBase(name), fn: fn}
}

// Act runs the state function and records its event.
func (s *FuncState) Act(ctx context.Context) error {
	if s.done {
		return nil
	}
	event, err := s.fn(ctx)
	if err != nil {
		return err
	}
	s.event = event
	s.done = true
	return nil
}

// IsDone reports whether the function has run since the last Reset.
func (s *FuncState) IsDone() bool { return s.done }

// Event returns the event produced by the last run.
func (s *FuncState) Event() string { return s.event }

// Reset re-arms the state.
func (s *FuncState) Reset() {
	s.done = false
	s.event = ""
}

// Transition is one edge of the machine.
type Transition struct {
	From  string
	Event string
	To    string
}

// FSM is a behaviour that runs one state per Act and moves between states on
// the events they produce.
//
// Registering initial=true more than once makes the last registration the
// initial state. When the current state is done and no transition matches
// its event, the machine stays in that state.
type FSM struct {
	Base
	states      map[string]State
	final       map[string]struct{}
	transitions map[string]map[string]string // from -> event -> to
	initial     string
	current     string
	logger      *slog.Logger
}

// NewFSM creates an empty machine. A nil logger uses slog.Default().
func NewFSM(name string, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		Base:        NewBase(name),
		states:      make(map[string]State),
		final:       make(map[string]struct{}),
		transitions: make(map[string]map[string]string),
		logger:      logger.With("component", "fsm", "behaviour", name),
	}
}

// RegisterState adds a state. Duplicate names fail with ErrDuplicateState
// and leave the machine unchanged.
func (f *FSM) RegisterState(name string, s State, initial bool) error {
	if _, exists := f.states[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateState, name)
	}
	f.states[name] = s
	if initial {
		f.initial = name
	}
	return nil
}

// RegisterFinalState adds a state and marks it final.
func (f *FSM) RegisterFinalState(name string, s State, initial bool) error {
	if err := f.RegisterState(name, s, initial); err != nil {
		return err
	}
	f.final[name] = struct{}{}
	return nil
}

// UnregisterState removes a state, clearing the initial state if it was this one.
func (f *FSM) UnregisterState(name string) error {
	if _, exists := f.states[name]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownState, name)
	}
	delete(f.states, name)
	delete(f.final, name)
	if f.initial == name {
		f.initial = ""
	}
	return nil
}

// RegisterTransition adds the edge from --event--> to. An empty event is the
// "no event" edge. A second edge for the same (from, event) fails with
// ErrDuplicateTransition and leaves the machine unchanged.
func (f *FSM) RegisterTransition(from, to, event string) error {
	if dest, exists := f.transitions[from][event]; exists {
		return fmt.Errorf("%w: %s --%q--> %s", ErrDuplicateTransition, from, event, dest)
	}
	if f.transitions[from] == nil {
		f.transitions[from] = make(map[string]string)
	}
	f.transitions[from][event] = to
	return nil
}

// UnregisterTransition removes the edge from --event--> to.
func (f *FSM) UnregisterTransition(from, to, event string) error {
	dest, exists := f.transitions[from][event]
	if !exists || dest != to {
		return fmt.Errorf("%w: %s --%q--> %s", ErrUnknownTransition, from, event, to)
	}
	delete(f.transitions[from], event)
	if len(f.transitions[from]) == 0 {
		delete(f.transitions, from)
	}
	return nil
}

// States returns the registered state names, sorted.
func (f *FSM) States() []string {
	names := make([]string, 0, len(f.states))
	for name := range f.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FinalStates returns the final state names, sorted.
func (f *FSM) FinalStates() []string {
	names := make([]string, 0, len(f.final))
	for name := range f.final {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitialState returns the initial state name, empty if unset.
func (f *FSM) InitialState() string { return f.initial }

// Current returns the current state name, empty before the first Act.
func (f *FSM) Current() string { return f.current }

// State returns the state registered under name.
func (f *FSM) State(name string) (State, bool) {
	s, ok := f.states[name]
	return s, ok
}

// Transitions returns every edge sorted by from, then event.
func (f *FSM) Transitions() []Transition {
	var out []Transition
	for from, events := range f.transitions {
		for event, to := range events {
			out = append(out, Transition{From: from, Event: event, To: to})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Event < out[j].Event
	})
	return out
}

// Setup sets up every state in name order.
func (f *FSM) Setup() error {
	for _, name := range f.States() {
		if err := f.states[name].Setup(); err != nil {
			return fmt.Errorf("setting up state %s: %w", name, err)
		}
	}
	return nil
}

// Teardown tears down every state, joining errors.
func (f *FSM) Teardown() error {
	var errs []error
	for _, name := range f.States() {
		if err := f.states[name].Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("tearing down state %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Act runs the current state. When it is done, the transition for its event
// fires; with no matching transition the machine stays put. The first Act
// enters the initial state and fails with ErrNotStarted if there is none.
func (f *FSM) Act(ctx context.Context) error {
	if f.current == "" {
		if f.initial == "" {
			return fmt.Errorf("%w: %s", ErrNotStarted, f.Name())
		}
		if _, ok := f.states[f.initial]; !ok {
			return fmt.Errorf("%w: initial state %s", ErrUnknownState, f.initial)
		}
		f.enter(f.initial)
	}

	state, ok := f.states[f.current]
	if !ok {
		return fmt.Errorf("%w: current state %s", ErrUnknownState, f.current)
	}
	if err := state.Act(ctx); err != nil {
		return fmt.Errorf("state %s: %w", f.current, err)
	}
	if !state.IsDone() {
		return nil
	}

	event := state.Event()
	next, ok := f.transitions[f.current][event]
	if !ok {
		return nil
	}
	if _, ok := f.states[next]; !ok {
		return fmt.Errorf("%w: transition %s --%q--> %s", ErrUnknownState, f.current, event, next)
	}

	f.logger.Debug("transition", "from", f.current, "event", event, "to", next)
	f.enter(next)
	return nil
}

func (f *FSM) enter(name string) {
	f.current = name
	if r, ok := f.states[name].(Resetter); ok {
		r.Reset()
	}
}

// IsDone reports whether the machine sits in a final state that is done.
func (f *FSM) IsDone() bool {
	if f.current == "" {
		return false
	}
	if _, final := f.final[f.current]; !final {
		return false
	}
	s, ok := f.states[f.current]
	return ok && s.IsDone()
}

var (
	_ Behaviour = (*FSM)(nil)
	_ State     = (*FuncState)(nil)
)
