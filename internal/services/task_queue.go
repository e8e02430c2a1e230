package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/pkg/logger"
)

const (
	TaskTypeNotificationRetry = "notification:retry"
)

// NotificationRetryTask is the payload of a deferred delivery retry.
type NotificationRetryTask struct {
	NotificationID uint `json:"notification_id"`
}

// TaskQueue schedules deferred one-shot work.
type TaskQueue interface {
	// ScheduleRetry enqueues a notification delivery retry after delay.
	ScheduleRetry(notificationID uint, delay time.Duration) error
	// IsAsync returns true if the queue defers work to a separate worker
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Infof("[TaskQueue] Redis unavailable, falling back to in-process timers: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] In-process queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Test connection by pinging Redis
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	_, err := inspector.Queues()
	if err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// ScheduleRetry enqueues a delivery retry to run after delay. asynq-level
// retries are disabled: the dispatcher's own budget governs reattempts.
func (q *AsyncQueue) ScheduleRetry(notificationID uint, delay time.Duration) error {
	payload, err := json.Marshal(&NotificationRetryTask{NotificationID: notificationID})
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeNotificationRetry, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Retry scheduled: id=%s, notification=%d, delay=%v", info.ID, notificationID, delay)
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue with in-process timers (no Redis). A
// scheduled retry does not survive a process restart; the periodic sweep
// covers that gap.
type SyncQueue struct {
	processor func(context.Context, uint) error
}

// NewSyncQueue creates a new in-process queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function invoked when a scheduled retry fires.
func (q *SyncQueue) SetProcessor(processor func(context.Context, uint) error) {
	q.processor = processor
}

// ScheduleRetry fires the processor after delay on an in-process timer.
func (q *SyncQueue) ScheduleRetry(notificationID uint, delay time.Duration) error {
	if q.processor == nil {
		logger.Infof("[SyncQueue] Warning: no processor set, retry for notification %d dropped", notificationID)
		return nil
	}

	time.AfterFunc(delay, func() {
		if err := q.processor(context.Background(), notificationID); err != nil {
			logger.Infof("[SyncQueue] Retry of notification %d failed: %v", notificationID, err)
		}
	})

	return nil
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}
