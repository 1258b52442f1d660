// Package relay implements a gRPC envelope relay.
//
// Agents that cannot reach each other directly connect to a relay over one
// bidirectional stream each. The stream carries Frames wrapped in
// google.protobuf.BytesValue, so the service is described by a hand-written
// grpc.ServiceDesc and needs no generated code.
//
// Protocol flow:
//
//  1. Client sends a register frame naming its address. With authentication
//     on, the JWT subject must equal that address.
//  2. Relay replies with a welcome frame carrying the session id.
//  3. Envelope frames from a client are forwarded to a session registered
//     for the envelope's destination. When several sessions share an
//     address, deliveries rotate among them.
//  4. Frames whose id was already seen are dropped. Frames that cannot be
//     delivered come back to the sender as error frames.
//
// Sessions are unregistered when their stream ends.
package relay
