// Package dedupe drops frames the relay has already handled.
//
// Clients stamp every relay frame with a unique id. A reconnecting client
// may resend frames it is unsure about; the relay calls Observe with each id
// and discards the frame when Observe reports a duplicate within the window.
package dedupe
