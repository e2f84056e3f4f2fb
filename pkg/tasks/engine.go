package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const queueKey = "controlplane:tasks"

// Engine submits tasks to Redis and Postgres, and runs a fixed-size
// worker-goroutine pool that pulls task ids off the queue with BLPOP and
// dispatches to registered handlers.
type Engine struct {
	store       *Store
	rdb         *redis.Client
	logger      *slog.Logger
	concurrency int
	duration    *prometheus.HistogramVec // labeled kind, status
	processed   *prometheus.CounterVec   // labeled kind, outcome

	mu       sync.RWMutex
	handlers map[Kind]Handler

	wg sync.WaitGroup
}

// NewEngine creates a task Engine. Register handlers before calling Run.
func NewEngine(store *Store, rdb *redis.Client, logger *slog.Logger, concurrency int, duration *prometheus.HistogramVec, processed *prometheus.CounterVec) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		store:       store,
		rdb:         rdb,
		logger:      logger,
		concurrency: concurrency,
		duration:    duration,
		processed:   processed,
		handlers:    make(map[Kind]Handler),
	}
}

// Register binds a Handler to a Kind. Call before Run.
func (e *Engine) Register(kind Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Submit persists a new task record as PENDING and pushes its id onto the
// queue. The task is immediately observable by GetStatus, decoupling
// submission from worker pickup.
func (e *Engine) Submit(ctx context.Context, kind Kind, runtimeID, agentID *uuid.UUID, payload any) (uuid.UUID, error) {
	taskID := uuid.New()

	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshalling task payload: %w", err)
	}

	if err := e.store.Insert(ctx, taskID, kind, runtimeID, agentID, body); err != nil {
		return uuid.Nil, err
	}

	if err := e.rdb.RPush(ctx, queueKey, taskID.String()).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("enqueuing task %s: %w", taskID, err)
	}

	return taskID, nil
}

// Run starts the worker pool. It blocks until ctx is cancelled, then waits
// for in-flight task bodies to finish their current step before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("task engine started", "concurrency", e.concurrency)

	for i := 0; i < e.concurrency; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	<-ctx.Done()
	e.logger.Info("task engine shutting down, draining workers")
	e.wg.Wait()
	return nil
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := e.rdb.BLPop(ctx, 5*time.Second, queueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("worker blpop failed", "worker", id, "error", err)
			time.Sleep(time.Second)
			continue
		}

		// res is [key, value]
		taskIDStr := res[1]
		taskID, err := uuid.Parse(taskIDStr)
		if err != nil {
			e.logger.Error("worker received malformed task id", "worker", id, "value", taskIDStr, "error", err)
			continue
		}

		e.execute(ctx, taskID)
	}
}

func (e *Engine) execute(ctx context.Context, taskID uuid.UUID) {
	rec, err := e.store.Get(ctx, taskID)
	if err != nil {
		e.logger.Error("loading task record", "task_id", taskID, "error", err)
		return
	}

	e.mu.RLock()
	handler, ok := e.handlers[rec.Kind]
	e.mu.RUnlock()
	if !ok {
		e.logger.Error("no handler registered for task kind", "task_id", taskID, "kind", rec.Kind)
		_ = e.store.SetStatus(ctx, taskID, StatusFailure)
		return
	}

	if err := e.store.SetStatus(ctx, taskID, StatusStarted); err != nil {
		e.logger.Error("marking task started", "task_id", taskID, "error", err)
	}

	start := time.Now()
	err = handler(ctx, *rec)
	elapsed := time.Since(start).Seconds()

	outcome := string(StatusSuccess)
	if err != nil {
		outcome = string(StatusFailure)
		e.logger.Error("task body failed", "task_id", taskID, "kind", rec.Kind, "error", err)
	}

	if e.duration != nil {
		e.duration.WithLabelValues(string(rec.Kind), outcome).Observe(elapsed)
	}
	if e.processed != nil {
		e.processed.WithLabelValues(string(rec.Kind), outcome).Inc()
	}

	if setErr := e.store.SetStatus(ctx, taskID, Status(outcome)); setErr != nil {
		e.logger.Error("marking task final status", "task_id", taskID, "error", setErr)
	}
}
