// Package protocol defines dialogue-protocol messages, their structured codec
// and the conversation rules (Spec) of the built-in protocols.
//
// A protocol is identified by a public id such as "fetchai/default:0.1.0".
// Its Spec lists the performatives that may start a dialogue, the ones that
// end it and, optionally, which performative may answer which.
package protocol
