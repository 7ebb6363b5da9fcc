package eventbus

// Well-known event types published on the bus. Components may publish
// additional ad-hoc types; subscribers should tolerate unknown ones.
const (
	TypePostPosted  = "post.posted"
	TypePostFailed  = "post.failed"
	TypePostDeduped = "post.deduped"

	TypeTaskStarted   = "task.started"
	TypeTaskSucceeded = "task.succeeded"
	TypeTaskFailed    = "task.failed"
	TypeTaskSkipped   = "task.skipped"
	TypeTaskDropped   = "task.dropped"

	TypeSchedulerTrigger = "scheduler.trigger"
	TypeConfigReload     = "config.reload"
)
