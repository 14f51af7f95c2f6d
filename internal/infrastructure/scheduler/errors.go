package scheduler

import "errors"

var (
	// ErrNotRunning is returned when submitting to a stopped queue
	ErrNotRunning = errors.New("refresh queue is not running")

	// ErrQueueFull is returned when the job queue is full
	ErrQueueFull = errors.New("refresh queue is full")

	// ErrAlreadyQueued is returned when a job for the same key is pending or running
	ErrAlreadyQueued = errors.New("refresh already queued for key")

	// ErrInvalidSchedule is returned for an unparseable cron expression
	ErrInvalidSchedule = errors.New("invalid cron schedule")
)
