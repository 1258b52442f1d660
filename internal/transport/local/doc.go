// Package local provides an in-process transport. A Node switches envelopes
// between Connections created in the same process; it is the transport used
// by tests and by processes that host several agents.
package local
