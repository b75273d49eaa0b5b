package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sidekick-chat/sidekick/internal/bus"
	"github.com/sidekick-chat/sidekick/internal/scheduler"
)

// WorkerConfig controls the task worker pool.
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	StaleAfter   time.Duration
	BatchSize    int
}

// DefaultWorkerConfig returns the defaults used by serve.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  4,
		PollInterval: 5 * time.Second,
		StaleAfter:   5 * time.Minute,
		BatchSize:    20,
	}
}

// Worker processes queued tasks. Kicks from the bus are the fast path; a
// periodic poll picks up tasks whose kick was dropped or lost in a restart,
// and fails tasks stuck in running.
type Worker struct {
	engine *Engine
	bus    *bus.MessageBus
	cfg    WorkerConfig
	sem    *scheduler.Semaphore

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewWorker creates a worker pool. Zero config values take the defaults.
func NewWorker(engine *Engine, b *bus.MessageBus, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Worker{
		engine:   engine,
		bus:      b,
		cfg:      cfg,
		sem:      scheduler.NewSemaphore(cfg.Concurrency),
		inflight: make(map[string]bool),
	}
}

// Run consumes kicks and polls until ctx is cancelled, then waits for
// in-flight tasks to return.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Worker started", "concurrency", w.cfg.Concurrency, "poll", w.cfg.PollInterval, "stale_after", w.cfg.StaleAfter)
	defer w.wg.Wait()

	if w.bus != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consume(ctx)
		}()
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) consume(ctx context.Context) {
	for {
		k, err := w.bus.ConsumeKick(ctx)
		if err != nil {
			return
		}
		if err := w.sem.Acquire(ctx); err != nil {
			return
		}
		w.start(ctx, k.TaskID)
	}
}

// poll sweeps stale tasks and dispatches queued ones while slots are free.
func (w *Worker) poll(ctx context.Context) {
	if swept, err := w.engine.tasks.SweepStale(ctx, w.cfg.StaleAfter); err != nil {
		slog.Error("Worker stale sweep failed", "error", err)
	} else if len(swept) > 0 {
		slog.Warn("Worker failed stale tasks", "count", len(swept))
		for i := range swept {
			w.engine.interrupted(ctx, &swept[i])
		}
	}

	queued, err := w.engine.tasks.Store().ListQueuedTasks(ctx, w.cfg.BatchSize)
	if err != nil {
		slog.Error("Worker poll failed", "error", err)
		return
	}
	for _, t := range queued {
		if w.busy(t.TaskID) {
			continue
		}
		if !w.sem.TryAcquire() {
			return
		}
		w.start(ctx, t.TaskID)
	}
}

func (w *Worker) busy(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflight[taskID]
}

// start runs one task on a held semaphore slot.
func (w *Worker) start(ctx context.Context, taskID string) {
	w.mu.Lock()
	if w.inflight[taskID] {
		w.mu.Unlock()
		w.sem.Release()
		return
	}
	w.inflight[taskID] = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inflight, taskID)
			w.mu.Unlock()
			w.sem.Release()
		}()
		if err := w.engine.ProcessTask(ctx, taskID); err != nil {
			slog.Error("Worker task error", "task_id", taskID, "error", err)
		}
	}()
}
