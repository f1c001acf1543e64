package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classbook/internal/domain"
	"classbook/internal/events"
	"classbook/internal/metrics"
	"classbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	resultSent   = "sent"
	resultRetry  = "retry"
	resultFailed = "failed"
)

// notificationPayload is persisted in NotificationTask.Payload as JSON.
type notificationPayload struct {
	Message string `json:"message"`
}

// NotificationWorker delivers member notifications produced by domain
// events. Tasks are persisted first, then scheduled through redis or the
// in-memory queue; the database is polled for anything left behind.
type NotificationWorker struct {
	store         domain.NotificationQueue
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewNotificationWorker(
	store domain.NotificationQueue,
	notifier domain.Notifier,
	redisClient *redis.Client,
	retry RetryPolicy,
	pollInterval time.Duration,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: "classbook:notifications",
		deadLetterKey: "classbook:notifications:deadletter",
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// Subscribe wires the worker to the events members are told about.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	for _, eventType := range []string{
		events.EventWaitlistSpotAvailable,
		events.EventWaitlistHoldExpired,
		events.EventBookingCancelled,
		events.EventRescheduleApproved,
		events.EventRescheduleRejected,
	} {
		bus.Subscribe(eventType, w.HandleEvent)
	}
}

// HandleEvent turns an event into a queued notification. Events nobody
// needs to hear about are ignored.
func (w *NotificationWorker) HandleEvent(event *events.Event) error {
	userID, message, err := renderMessage(event)
	if err != nil {
		return err
	}
	if message == "" {
		return nil
	}
	return w.Enqueue(context.Background(), event.Type, userID, message)
}

// Enqueue persists a task and schedules it via redis or the in-memory queue.
func (w *NotificationWorker) Enqueue(ctx context.Context, eventType string, userID int64, message string) error {
	if userID == 0 {
		return errors.New("user id is required")
	}
	if message == "" {
		return errors.New("message is required")
	}

	payload, err := json.Marshal(notificationPayload{Message: message})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotificationTask{
		EventType: eventType,
		UserID:    userID,
		Payload:   string(payload),
		Status:    models.TaskPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
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

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if n := w.drainPending(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// drainPending processes tasks due in the database and returns how many it saw.
func (w *NotificationWorker) drainPending(ctx context.Context) int {
	tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending notification tasks")
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
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
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("redis BRPOP error")
		}
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
	if w.settled(ctx, task.ID) {
		w.logger.Debug().Int64("task_id", task.ID).Msg("Notification already settled, skipping")
		return
	}

	var payload notificationPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.notifier.Notify(ctx, task.UserID, payload.Message); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification(resultSent)
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notification completed")
	}
}

// settled reports whether the persisted task was already delivered or
// dropped. A task can reach the loop both from a queue and from polling.
func (w *NotificationWorker) settled(ctx context.Context, id int64) bool {
	stored, err := w.store.GetNotificationTask(ctx, id)
	if err != nil {
		return false
	}
	return stored.Status == models.TaskCompleted || stored.Status == models.TaskFailed
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification(resultRetry)
	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notification retry")
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("Notification delivery failed")
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification(resultFailed)
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark notification failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
		}
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64("user_id", task.UserID).Msg("Notification dropped")
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
