// ABOUTME: Dialogues is the per-protocol registry that finds, creates and updates dialogues
// ABOUTME: Owned by the single task dispatching messages, so it carries no locks

package dialogue

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/agent-runtime/internal/protocol"
)

// Observer is notified when a dialogue ends. The metrics collector implements it.
type Observer interface {
	DialogueEnded(protocolID string, role Role, performative protocol.Performative)
}

// Stats summarizes the dialogues a registry has seen.
type Stats struct {
	SelfInitiated  int
	OtherInitiated int
	// Ended counts ended dialogues by their terminal performative.
	Ended map[protocol.Performative]int
}

// Option configures a Dialogues registry.
type Option func(*Dialogues)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Dialogues) { r.logger = logger }
}

// WithObserver registers an observer for ended dialogues.
func WithObserver(o Observer) Option {
	return func(r *Dialogues) { r.observer = o }
}

// Dialogues keeps every dialogue the local agent takes part in for one protocol.
//
// It is not safe for concurrent use: the agent loop that dispatches messages
// is its only caller.
type Dialogues struct {
	self string
	spec *protocol.Spec

	dialogues map[Label]*Dialogue
	// aliases maps an incomplete label to the complete label it became.
	aliases map[Label]Label

	seed     string
	nonce    uint64
	stats    Stats
	observer Observer
	logger   *slog.Logger
}

// New creates a registry for self's dialogues following spec.
func New(self string, spec *protocol.Spec, opts ...Option) *Dialogues {
	r := &Dialogues{
		self:      self,
		spec:      spec,
		dialogues: make(map[Label]*Dialogue),
		aliases:   make(map[Label]Label),
		seed:      uuid.NewString()[:8],
		stats:     Stats{Ended: make(map[protocol.Performative]int)},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "dialogues", "protocol_id", spec.ID)
	return r
}

// SelfAddress returns the address dialogues are kept for.
func (r *Dialogues) SelfAddress() string { return r.self }

// Spec returns the protocol rules.
func (r *Dialogues) Spec() *protocol.Spec { return r.spec }

// NewSelfInitiatedDialogueReference allocates a reference for a dialogue the
// local agent starts. References never repeat within a registry.
func (r *Dialogues) NewSelfInitiatedDialogueReference() protocol.DialogueReference {
	return protocol.DialogueReference{r.nextNonce(), ""}
}

func (r *Dialogues) nextNonce() string {
	r.nonce++
	return fmt.Sprintf("%s-%d", r.seed, r.nonce)
}

// Get returns the dialogue with the given label, following incomplete labels.
func (r *Dialogues) Get(label Label) (*Dialogue, bool) {
	if d, ok := r.dialogues[label]; ok {
		return d, true
	}
	if complete, ok := r.aliases[label]; ok {
		d, ok := r.dialogues[complete]
		return d, ok
	}
	return nil, false
}

// Len returns the number of dialogues.
func (r *Dialogues) Len() int { return len(r.dialogues) }

// Stats returns a snapshot of the registry statistics.
func (r *Dialogues) Stats() Stats {
	ended := make(map[protocol.Performative]int, len(r.stats.Ended))
	for k, v := range r.stats.Ended {
		ended[k] = v
	}
	return Stats{
		SelfInitiated:  r.stats.SelfInitiated,
		OtherInitiated: r.stats.OtherInitiated,
		Ended:          ended,
	}
}

// Update records m in its dialogue. Outgoing messages are recognised by
// m.Sender being the local address.
//
// If the dialogue exists, m must satisfy its sequencing invariant and the
// protocol's reply rules. If it does not exist and m legally starts a
// conversation, a new dialogue is created and seeded with m. On any failure
// Update returns a nil dialogue and an error wrapping ErrInvalidMessage, and
// no registry or dialogue state is changed.
func (r *Dialogues) Update(m *protocol.Message) (*Dialogue, error) {
	d, created, err := r.prepare(m)
	if err != nil {
		return nil, err
	}
	outgoing := m.Sender == r.self

	if !created {
		r.upgradeLabel(d, m, outgoing)
		r.accept(d, m)
		return d, nil
	}

	if !outgoing {
		incomplete := d.label
		d.label.Reference[1] = r.nextNonce()
		r.aliases[incomplete] = d.label
		r.stats.OtherInitiated++
	} else {
		r.stats.SelfInitiated++
	}
	r.dialogues[d.label] = d
	r.accept(d, m)

	r.logger.Debug("dialogue created",
		"label", d.label.String(),
		"role", d.role.String(),
		"performative", m.Performative,
	)
	return d, nil
}

// Validate reports whether Update would accept m, without changing any state.
func (r *Dialogues) Validate(m *protocol.Message) error {
	_, _, err := r.prepare(m)
	return err
}

// prepare finds or builds the dialogue m belongs to and validates m against
// it. A built dialogue is not registered; created reports whether one was built.
func (r *Dialogues) prepare(m *protocol.Message) (d *Dialogue, created bool, err error) {
	if m.Sender == "" || m.To == "" {
		return nil, false, ErrMissingAddress
	}
	outgoing := m.Sender == r.self
	counterparty := m.Sender
	if outgoing {
		counterparty = m.To
	}

	if existing := r.lookup(m.DialogueReference, counterparty); existing != nil {
		if err := existing.Validate(m); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if !r.isStarter(m) {
		return nil, false, fmt.Errorf("%w: reference %s with %s", ErrUnidentified, m.DialogueReference, counterparty)
	}

	if outgoing {
		label := Label{Reference: m.DialogueReference, Opponent: counterparty, Starter: r.self}
		d = newDialogue(label, r.self, RoleInitiator, r.spec)
	} else {
		ref := protocol.DialogueReference{m.DialogueReference[0], ""}
		label := Label{Reference: ref, Opponent: counterparty, Starter: counterparty}
		d = newDialogue(label, r.self, RoleResponder, r.spec)
	}
	if err := d.Validate(m); err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// isStarter reports whether m may open a new dialogue.
func (r *Dialogues) isStarter(m *protocol.Message) bool {
	ref := m.DialogueReference
	return ref[0] != "" && ref[1] == "" &&
		m.MessageID == protocol.StartingMessageID &&
		m.Target == protocol.StartingTarget &&
		r.spec.IsInitial(m.Performative)
}

// lookup finds the dialogue a message with ref exchanged with counterparty belongs to.
func (r *Dialogues) lookup(ref protocol.DialogueReference, counterparty string) *Dialogue {
	for _, starter := range []string{r.self, counterparty} {
		if d, ok := r.Get(Label{Reference: ref, Opponent: counterparty, Starter: starter}); ok {
			return d
		}
	}
	if ref.IsComplete() {
		// First reply to a self-initiated dialogue: only the responder knows the full reference yet.
		incomplete := Label{Reference: protocol.DialogueReference{ref[0], ""}, Opponent: counterparty, Starter: r.self}
		if d, ok := r.dialogues[incomplete]; ok {
			return d
		}
	}
	return nil
}

// upgradeLabel completes a self-initiated dialogue's label on the responder's first reply.
func (r *Dialogues) upgradeLabel(d *Dialogue, m *protocol.Message, outgoing bool) {
	if outgoing || d.label.Reference.IsComplete() || !m.DialogueReference.IsComplete() {
		return
	}
	if d.label.Reference[0] != m.DialogueReference[0] {
		return
	}
	old := d.label
	d.label.Reference = m.DialogueReference
	delete(r.dialogues, old)
	r.dialogues[d.label] = d
	r.aliases[old] = d.label
}

func (r *Dialogues) accept(d *Dialogue, m *protocol.Message) {
	d.append(m)
	if !d.ended {
		return
	}
	r.stats.Ended[m.Performative]++
	if r.observer != nil {
		r.observer.DialogueEnded(r.spec.ID, d.role, m.Performative)
	}
	r.logger.Debug("dialogue ended",
		"label", d.label.String(),
		"performative", m.Performative,
	)
}
