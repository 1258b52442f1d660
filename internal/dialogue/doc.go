// Package dialogue tracks two-party conversations and rejects messages that
// break a protocol's sequencing rules.
//
// # Sequencing
//
// Messages in a dialogue share one counter. The first message has id 1 and
// target 0; every later message must have id = last+1 and target = last.
// Additionally the protocol Spec decides which performative may start a
// dialogue, which may answer which, and which ends it.
//
// # References
//
// The initiator picks the first half of the reference; the responder adds
// the second half when the dialogue reaches it. The registry resolves both
// the incomplete and the complete form to the same Dialogue.
//
// # Concurrency
//
// Dialogues are mutated only by the agent loop that dispatches messages, so
// neither Dialogue nor Dialogues takes locks.
package dialogue
