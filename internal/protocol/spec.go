// ABOUTME: Spec captures a protocol's conversation rules: starters, terminals and valid replies
// ABOUTME: Dialogues consult it to decide whether a message may start or continue a conversation

package protocol

import "sort"

// Spec describes one dialogue protocol.
type Spec struct {
	ID string

	performatives map[Performative]struct{}
	initial       map[Performative]struct{}
	terminal      map[Performative]struct{}
	// replies is nil when any known performative may follow any other.
	replies map[Performative]map[Performative]struct{}
}

// NewSpec builds a protocol spec. A nil replies map allows any reply order.
// Every performative mentioned anywhere becomes a known performative.
func NewSpec(id string, initial, terminal []Performative, replies map[Performative][]Performative) *Spec {
	s := &Spec{
		ID:            id,
		performatives: make(map[Performative]struct{}),
		initial:       toSet(initial),
		terminal:      toSet(terminal),
	}
	for _, p := range initial {
		s.performatives[p] = struct{}{}
	}
	for _, p := range terminal {
		s.performatives[p] = struct{}{}
	}
	if replies != nil {
		s.replies = make(map[Performative]map[Performative]struct{}, len(replies))
		for from, tos := range replies {
			s.performatives[from] = struct{}{}
			s.replies[from] = toSet(tos)
			for _, to := range tos {
				s.performatives[to] = struct{}{}
			}
		}
	}
	return s
}

func toSet(ps []Performative) map[Performative]struct{} {
	out := make(map[Performative]struct{}, len(ps))
	for _, p := range ps {
		out[p] = struct{}{}
	}
	return out
}

// Knows reports whether p belongs to the protocol.
func (s *Spec) Knows(p Performative) bool {
	_, ok := s.performatives[p]
	return ok
}

// IsInitial reports whether p may start a dialogue.
func (s *Spec) IsInitial(p Performative) bool {
	_, ok := s.initial[p]
	return ok
}

// IsTerminal reports whether p ends a dialogue.
func (s *Spec) IsTerminal(p Performative) bool {
	_, ok := s.terminal[p]
	return ok
}

// IsValidReply reports whether next may answer prev.
func (s *Spec) IsValidReply(prev, next Performative) bool {
	if s.replies == nil {
		return s.Knows(next)
	}
	allowed, ok := s.replies[prev]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// Performatives returns the known performatives in sorted order.
func (s *Spec) Performatives() []Performative {
	out := make([]Performative, 0, len(s.performatives))
	for p := range s.performatives {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
