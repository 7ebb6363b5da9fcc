// Package engine executes named tasks on a bounded queue with a small
// worker pool.
//
// The scheduler only registers triggers; when one fires it enqueues a task
// here. The engine owns the run lifecycle: per-attempt timeouts, bounded
// retries with jittered backoff, an overlap policy so a trigger that lands
// while the same task is still running is skipped instead of stacked, and a
// consecutive-failure breaker that pauses a task which keeps failing.
package engine
