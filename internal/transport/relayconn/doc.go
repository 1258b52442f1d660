// Package relayconn connects an agent to a relay server (see internal/relay).
// The connection registers the agent address on one bidirectional gRPC
// stream and then exchanges envelope frames over it. Envelopes the relay
// cannot deliver come back as error frames, which are logged.
package relayconn
