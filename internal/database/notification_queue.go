package database

import (
	"context"
	"fmt"
	"time"

	"clinicbook/internal/models"
)

const notificationColumns = `id, event_type, reservation_id, payload, status, retry_count, last_error,
       created_at, processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	query := `INSERT INTO notification_queue (event_type, reservation_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	now := time.Now().UTC()
	if task.NextRetryAt != nil {
		utc := task.NextRetryAt.UTC()
		task.NextRetryAt = &utc
	}
	result, err := db.ExecContext(ctx, query,
		task.EventType,
		task.ReservationID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
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

// GetNotificationTask returns the stored task or ErrTaskNotFound.
func (db *DB) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue WHERE id = ?`
	tasks, err := db.queryNotificationTasks(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrTaskNotFound
	}
	return &tasks[0], nil
}

// GetPendingNotificationTasks returns tasks due for delivery, oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + `
              FROM notification_queue
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryNotificationTasks(ctx, query, models.TaskPending, models.TaskRetry, time.Now().UTC(), limit)
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + `
              FROM notification_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	return db.queryNotificationTasks(ctx, query, models.TaskFailed)
}

// GetNotificationTasksForReservation lists every task queued for a reservation.
func (db *DB) GetNotificationTasksForReservation(ctx context.Context, reservationID int64) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + `
              FROM notification_queue WHERE reservation_id = ? ORDER BY id ASC`
	return db.queryNotificationTasks(ctx, query, reservationID)
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []any
	)
	now := time.Now().UTC()

	var lastErr *string
	if errMsg != "" {
		lastErr = &errMsg
	}
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastErr, nextRetryAt, id}
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastErr, nextRetryAt, &now, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastErr, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}

func (db *DB) queryNotificationTasks(ctx context.Context, query string, args ...any) ([]models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		err := rows.Scan(
			&t.ID, &t.EventType, &t.ReservationID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError,
			&t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification tasks: %w", err)
	}
	return tasks, nil
}
