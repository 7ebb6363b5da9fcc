// Package poster runs posting cycles: pull the next quote from the
// source, format it, refuse recent duplicates, send it to Twitter with
// rate limiting and bounded retry, and record the outcome.
//
// Cycles execute synchronously on the caller's goroutine. In the daemon
// that caller is the task engine, whose overlap gate guarantees a firing
// never starts while another cycle is still running.
package poster
