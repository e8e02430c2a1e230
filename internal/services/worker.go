package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/pkg/logger"
)

// Worker consumes scheduled notification retries from redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor func(context.Context, uint) error
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewWorker returns nil when redis is disabled; the sync queue handles
// retries in-process in that case.
func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{"default": 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warnf("[Worker] Task %s failed: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// SetProcessor sets the function invoked for each notification retry.
func (w *Worker) SetProcessor(processor func(context.Context, uint) error) {
	w.processor = processor
}

// Start begins consuming retry tasks. Safe to call more than once.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeNotificationRetry, w.handleRetryTask)
	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[Worker] Starting async worker")
		if err := w.server.Run(w.mux); err != nil {
			logger.Errorf("[Worker] Server error: %v", err)
		}
	}()

	return nil
}

// Stop drains in-flight tasks and shuts the server down.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] Shutdown complete")
}

// handleRetryTask processes one scheduled notification retry. Budget and
// time-gate refusals are terminal for the task, not queue errors.
func (w *Worker) handleRetryTask(ctx context.Context, t *asynq.Task) error {
	var task NotificationRetryTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Errorf("[Worker] Bad retry payload: %v", err)
		return err
	}

	if w.processor == nil {
		logger.Warnf("[Worker] No processor set, dropping retry for notification %d", task.NotificationID)
		return nil
	}

	logger.Infof("[Worker] Retrying notification %d", task.NotificationID)

	err := w.processor(ctx, task.NotificationID)
	if errors.Is(err, ErrRetryExhausted) || errors.Is(err, ErrRetryTooSoon) {
		return nil
	}
	return err
}

var (
	globalWorker *Worker
	workerOnce   sync.Once
)

// InitWorker initializes the process-wide worker once.
func InitWorker(cfg *config.RedisConfig) *Worker {
	workerOnce.Do(func() {
		globalWorker = NewWorker(cfg)
	})
	return globalWorker
}

// GetWorker returns the process-wide worker, nil when redis is disabled.
func GetWorker() *Worker {
	return globalWorker
}
