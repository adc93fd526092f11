package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicbook/internal/events"
	"clinicbook/internal/metrics"
	"clinicbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueueKey      = "notifications:queue"
	defaultDeadLetterKey = "notifications:deadletter"
)

// Sender delivers one notification through a channel (log, broker, chat).
type Sender interface {
	Send(ctx context.Context, eventType string, payload events.ReservationEventPayload) error
}

// TaskStore persists notification tasks between attempts.
type TaskStore interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// NotificationWorker consumes notification_queue tasks and hands them to a Sender.
// Delivery is at-least-once; callers of Enqueue never see delivery errors.
type NotificationWorker struct {
	store         TaskStore
	sender        Sender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	inbox         chan inboundEvent
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewNotificationWorker builds a worker with sane defaults.
func NewNotificationWorker(
	store TaskStore,
	sender Sender,
	redisClient *redis.Client,
	retry RetryPolicy,
	queueSize int,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if queueSize <= 0 {
		queueSize = models.WorkerQueueSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		sender:        sender,
		redis:         redisClient,
		retryPolicy:   retry,
		inbox:         make(chan inboundEvent, queueSize),
		queue:         make(chan models.NotificationTask, queueSize),
		redisQueueKey: defaultQueueKey,
		deadLetterKey: defaultDeadLetterKey,
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// inboundEvent is a bus event accepted but not yet persisted.
type inboundEvent struct {
	eventType     string
	reservationID int64
	payload       []byte
}

// HandleEvent is an events.EventHandler. It only hands the event to the
// worker goroutine, which persists it; the publisher never waits on the
// queue store unless the inbox is full.
func (w *NotificationWorker) HandleEvent(event *events.Event) error {
	var payload events.ReservationEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	if payload.ReservationID == 0 {
		return errors.New("reservation id is required")
	}

	in := inboundEvent{eventType: event.Type, reservationID: payload.ReservationID, payload: event.Payload}
	select {
	case w.inbox <- in:
		return nil
	default:
		w.logger.Warn().Str("event_type", event.Type).Msg("notification inbox full, persisting inline")
		return w.Enqueue(context.Background(), in.eventType, in.reservationID, in.payload)
	}
}

// drainInbox persists every event currently waiting in the inbox.
func (w *NotificationWorker) drainInbox(ctx context.Context) int {
	n := 0
	for {
		select {
		case in := <-w.inbox:
			w.accept(ctx, in)
			n++
		default:
			return n
		}
	}
}

func (w *NotificationWorker) accept(ctx context.Context, in inboundEvent) {
	if err := w.Enqueue(ctx, in.eventType, in.reservationID, in.payload); err != nil {
		metrics.IncNotification("lost")
		w.logger.Error().Err(err).
			Str("event_type", in.eventType).
			Int64("reservation_id", in.reservationID).
			Msg("failed to persist notification")
	}
}

// Enqueue persists the task and schedules it via redis or the in-memory queue.
func (w *NotificationWorker) Enqueue(ctx context.Context, eventType string, reservationID int64, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	if reservationID == 0 {
		return errors.New("reservation id is required")
	}

	task := models.NotificationTask{
		EventType:     eventType,
		ReservationID: reservationID,
		Payload:       string(payload),
		Status:        models.TaskPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}

	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			w.flushInbox()
			return
		default:
		}

		w.drainInbox(ctx)

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

// sleep waits for the next poll, waking early for a new inbound event.
func (w *NotificationWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case in := <-w.inbox:
		w.accept(ctx, in)
	}
}

// flushInbox persists events accepted before shutdown so polling picks
// them up on the next start.
func (w *NotificationWorker) flushInbox() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n := w.drainInbox(ctx); n > 0 {
		w.logger.Info().Int("count", n).Msg("persisted pending notifications on shutdown")
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.NotificationTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	// The same task can arrive from a queue and from polling; the stored
	// row decides whether it is still due.
	stored, err := w.store.GetNotificationTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("load notification task")
		return
	}
	if !isDue(stored, time.Now()) {
		w.logger.Debug().Int64("task_id", task.ID).Str("status", stored.Status).Msg("notification task not due, skipped")
		return
	}
	*task = *stored

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.sender.Send(ctx, task.EventType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification("sent")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification("retry")
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("notification delivery failed, will retry")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification("failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("event_type", task.EventType).Msg("notification dropped to dead letter")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func isDue(task *models.NotificationTask, now time.Time) bool {
	switch task.Status {
	case models.TaskPending:
		return true
	case models.TaskRetry:
		return task.NextRetryAt == nil || !task.NextRetryAt.After(now)
	default:
		return false
	}
}

func decodePayload(raw string) (events.ReservationEventPayload, error) {
	var payload events.ReservationEventPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *NotificationWorker) pushRedis(ctx context.Context, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
