// Package mux connects an agent to its transports.
//
// A Multiplexer owns an ordered set of connection.Connection values. Connect
// brings every connection up and starts one receive task per connection plus
// a single dispatch task. Received envelopes land in the Inbox; envelopes put
// in the Outbox are routed by their context's connection id, or to the
// default connection when none is set. Envelopes naming an unknown
// connection are dropped with ErrNoRoute logged and counted.
//
// The Outbox is bounded and never blocks: a full queue returns ErrOutboxFull.
// The Inbox offers a timed Get that waits on a timer rather than polling.
//
// Disconnect brings every connection down first, collecting and logging
// failures, then cancels the tasks and waits for them to finish.
package mux
