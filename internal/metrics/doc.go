// Package metrics exposes Prometheus metrics for the agent runtime.
//
// A Collector owns its own registry so several runtimes can live in one
// process (and in one test binary) without duplicate registration panics.
// All methods are no-ops on a nil *Collector, which lets components accept
// an optional collector without nil checks.
package metrics
