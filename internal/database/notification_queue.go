package database

import (
	"context"
	"fmt"
	"time"

	"classbook/internal/models"
)

const taskColumns = `id, event_type, user_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	query := `INSERT INTO notification_queue (event_type, user_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := utc(time.Now())
	result, err := db.ExecContext(ctx, query,
		task.EventType,
		task.UserID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		utcPtr(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...interface{}) ([]models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		err := rows.Scan(
			&t.ID, &t.EventType, &t.UserID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	var t models.NotificationTask
	query := `SELECT ` + taskColumns + ` FROM notification_queue WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.EventType, &t.UserID, &t.Payload, &t.Status, &t.RetryCount,
		&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if err != nil {
		return nil, notFound(err, "notification task", id)
	}
	return &t, nil
}

// GetPendingNotificationTasks returns tasks due for delivery, oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryTasks(ctx, query, models.TaskPending, models.TaskRetry, utc(time.Now()), limit)
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}

	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastErr, utcPtr(nextRetryAt), id}
	case models.TaskCompleted, models.TaskFailed:
		now := utc(time.Now())
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, utcPtr(nextRetryAt), now, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastErr, utcPtr(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM notification_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	return db.queryTasks(ctx, query, models.TaskFailed)
}
