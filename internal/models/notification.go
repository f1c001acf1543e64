package models

import "time"

// NotificationTask is a queued delivery of a domain event to the notifier.
type NotificationTask struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	UserID      int64      `json:"user_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}

const (
	TaskPending   = "pending"
	TaskRetry     = "retry"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)
