// Package scheduler provides trigger registration and fire-time calculation.
//
// It is trigger-only: when a cron entry fires, the job is enqueued into the
// task engine, which owns execution (timeouts, retries, overlap policy).
// The built-in posting schedule fires six times a day; deployments can
// override it with their own cron list.
package scheduler
