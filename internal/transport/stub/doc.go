// Package stub implements a file-based transport.
//
// In namespace mode a directory is the rendezvous point: every agent reads
// <dir>/<address>.in and delivers an envelope by appending a frame to the
// recipient's .in file. In direct mode the connection reads one file and
// appends everything it sends to another; the interact CLI uses this with
// the agent's files swapped.
//
// Frames are uvarint length-prefixed envelope encodings written with a single
// O_APPEND write, so concurrent writers never interleave records.
package stub
