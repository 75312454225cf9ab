package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrQueueFull rejects a task when the queue has no room.
	ErrQueueFull = errors.New("task queue full")
	// ErrRunnerClosed rejects a task submitted after Close.
	ErrRunnerClosed = errors.New("task runner closed")
)

type task func(ctx context.Context)

// TaskRunner executes detection follow-up work (event delivery, dataset
// refresh, annotations) off the request path on a bounded queue. Submit
// never blocks the caller.
type TaskRunner struct {
	logger *slog.Logger
	tasks  chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewTaskRunner creates a runner with the given concurrency and queue size.
func NewTaskRunner(workers, queueSize int, logger *slog.Logger) (*TaskRunner, error) {
	if workers <= 0 || queueSize <= 0 {
		return nil, errors.New("task runner requires positive workers and queue size")
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &TaskRunner{
		logger: logger,
		tasks:  make(chan task, queueSize),
	}
	r.start(workers)
	return r, nil
}

func (r *TaskRunner) start(workers int) {
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for t := range r.tasks {
				r.run(t)
			}
		}()
	}
}

func (r *TaskRunner) run(t task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("background task panicked", "panic", rec)
		}
	}()
	t(context.Background())
}

// Submit schedules fn without blocking. A full queue or closed runner
// rejects the task; callers treat rejection as a dropped event, not an
// error worth failing the request over.
func (r *TaskRunner) Submit(fn task) error {
	if fn == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRunnerClosed
	}
	select {
	case r.tasks <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake, runs everything already queued, and waits for the
// workers to exit. The write lock excludes in-flight Submits so the
// channel never sees a send after close.
func (r *TaskRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()
	r.wg.Wait()
}
