package core

import "time"

// Event is the interface for all runner events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted when a job begins executing.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobSucceeded is emitted when a job completes successfully.
type JobSucceeded struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobSucceeded) eventMarker() {}

// JobRetrying is emitted when a failed job returns to the queue.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}
