// Package envelope defines the addressed container moved by the multiplexer
// and its transport-agnostic binary encoding.
//
// # Wire format
//
// An encoded envelope is one version byte followed by protobuf wire fields:
//
//	1 to            string
//	2 sender        string
//	3 protocol_id   string
//	4 message       bytes (opaque, never inspected)
//	5 connection_id string (optional)
//	6 uri           string (optional)
//
// Append-only streams carry envelopes as uvarint length-prefixed frames.
// SplitFrames is meant for tailing readers that may observe a partially
// written record; it never returns partial data.
package envelope
