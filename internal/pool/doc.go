// Package pool runs blocking work off the agent loop.
//
// The agent loop must never block, so ledger queries and similar calls are
// submitted to a Pool. At most MaxWorkers tasks run at once, bounded by a
// weighted semaphore. Results are not handed to callers from worker
// goroutines: they wait in a channel until the agent loop calls Drain, which
// runs each task's callback on the loop's own goroutine.
package pool
