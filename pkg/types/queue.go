package types

import "time"

// Priority is assigned once at enqueue from message recency
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, higher drains first
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// QueuedItem is a message waiting in the background queue
type QueuedItem struct {
	OwnerId       string             `json:"owner_id"`
	Message       *NormalizedMessage `json:"message"`
	AddedAt       time.Time          `json:"added_at"`
	RetryCount    int                `json:"retry_count"`
	LastAttemptAt *time.Time         `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time         `json:"next_retry_at,omitempty"`
	Priority      Priority           `json:"priority"`
	Processing    bool               `json:"processing"`
	LastError     string             `json:"last_error,omitempty"`
}

// Due returns true if the item may be attempted at now
func (i *QueuedItem) Due(now time.Time) bool {
	if i.Processing {
		return false
	}
	return i.NextRetryAt == nil || !now.Before(*i.NextRetryAt)
}

// EnqueueResult reports how many messages the queue took
type EnqueueResult struct {
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`  // capacity reached
	Duplicate int `json:"duplicate"` // already queued
}

// QueueStats is a point-in-time view of the background queue
type QueueStats struct {
	Total         int           `json:"total"`
	Pending       int           `json:"pending"`
	Processing    int           `json:"processing"`
	Waiting       int           `json:"waiting"` // scheduled for a later retry
	AverageWait   time.Duration `json:"average_wait"`
	Capacity      int           `json:"capacity"`
	Accepted      int64         `json:"accepted"`
	Rejected      int64         `json:"rejected"`
	Completed     int64         `json:"completed"`
	Dropped       int64         `json:"dropped"`
	Running       bool          `json:"running"`
	CurrentDelays Delays        `json:"current_delays"`
}
