// Package agent runs an agent: one loop that owns every handler, dialogue
// registry and behaviour.
//
// # Tick
//
// Each tick the agent:
//
//  1. Runs the callbacks of worker-pool tasks that finished since the last tick.
//  2. Takes up to MaxReactions envelopes from the inbox, decodes each one and
//     hands it to the Handler registered for its protocol. Envelopes of an
//     unknown protocol, or that fail to decode, are answered with a
//     default-protocol error.
//  3. Acts each behaviour in registration order, skipping finished behaviours
//     and tickers that are not due.
//
// # Handlers
//
// DialogueHandler keeps a dialogue registry for its protocol and dispatches
// through a PerformativeTable:
//
//	h := agent.NewDialogueHandler(a.Context(), protocol.DefaultSpec, agent.PerformativeTable{
//	    protocol.PerformativeBytes: onBytes,
//	})
//	a.AddHandler(h)
//
// Messages sent with Context.Send pass through the same registry, so
// outgoing moves are validated before they reach the outbox.
//
// # Thread Safety
//
// Agent and Context are not safe for concurrent use. Blocking work belongs
// on the pool via Context.Submit; its callback comes back on the loop.
package agent
