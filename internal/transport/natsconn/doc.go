// Package natsconn carries envelopes over a NATS server. Each agent
// subscribes to <prefix>.<address>; sending publishes the encoded envelope
// on the recipient's subject. Delivery is at most once, as with core NATS.
package natsconn
