// ABOUTME: Sequence behaviour running sub-behaviours strictly one after another
// ABOUTME: A later sub-behaviour never acts before every earlier one is done

package behaviour

import (
	"context"
	"errors"
	"fmt"
)

// Sequence delegates each Act to the first sub-behaviour that is not done.
type Sequence struct {
	Base
	children []Behaviour
}

// NewSequence creates a sequence over children in order.
func NewSequence(name string, children ...Behaviour) *Sequence {
	return &Sequence{Base: NewBase(name), children: children}
}

// Children returns the sub-behaviours in order.
func (s *Sequence) Children() []Behaviour {
	out := make([]Behaviour, len(s.children))
	copy(out, s.children)
	return out
}

// Current returns the sub-behaviour the next Act will run, or nil when done.
func (s *Sequence) Current() Behaviour {
	for _, c := range s.children {
		if !c.IsDone() {
			return c
		}
	}
	return nil
}

// Setup sets up every sub-behaviour in order.
func (s *Sequence) Setup() error {
	for _, c := range s.children {
		if err := c.Setup(); err != nil {
			return fmt.Errorf("setting up %s: %w", c.Name(), err)
		}
	}
	return nil
}

// Act acts the current sub-behaviour.
func (s *Sequence) Act(ctx context.Context) error {
	c := s.Current()
	if c == nil {
		return nil
	}
	if err := c.Act(ctx); err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	return nil
}

// IsDone reports whether every sub-behaviour is done.
func (s *Sequence) IsDone() bool { return s.Current() == nil }

// Teardown tears down every sub-behaviour in reverse order, joining errors.
func (s *Sequence) Teardown() error {
	var errs []error
	for i := len(s.children) - 1; i >= 0; i-- {
		if err := s.children[i].Teardown(); err != nil {
			errs = append(errs, fmt.Errorf("tearing down %s: %w", s.children[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ Behaviour = (*Sequence)(nil)
