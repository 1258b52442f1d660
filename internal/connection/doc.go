// Package connection defines the transport endpoint abstraction consumed by
// the multiplexer, plus the registry that builds endpoints from config.
//
// Concrete transports live under internal/transport. Each embeds Base for its
// id, status flag and loop binding, and is registered with a Registry under a
// type name such as "stub" or "relay".
package connection
