package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"transcribebot/internal/metrics"
)

var (
	// ErrPoolFull is returned when the queue has no free slot.
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolClosed is returned after Close has been called.
	ErrPoolClosed = errors.New("worker pool is closed")
)

const (
	defaultWorkers   = 4
	defaultRetention = 10 * time.Minute
)

// TaskStatus represents the status of a detached task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// Task is a snapshot of one unit of detached work.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	DoneAt      time.Time  `json:"done_at,omitempty"`
}

// TaskFunc is the body of a detached task. The context it receives is
// never cancelled.
type TaskFunc func(ctx context.Context) error

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers   int
	QueueSize int           // pending tasks beyond the running ones; 0 = none
	Retention time.Duration // how long finished tasks stay visible to Get
	Logger    *slog.Logger
}

type job struct {
	task *Task
	fn   TaskFunc
}

// Pool runs detached tasks on a fixed set of workers with a bounded queue.
// A panicking task is recovered and marked failed; it never takes down the
// process.
type Pool struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	queue     chan job
	closed    bool
	wg        sync.WaitGroup
	workers   int
	retention time.Duration
	logger    *slog.Logger
}

// NewPool starts the workers and returns the pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pool{
		tasks:     make(map[string]*Task),
		queue:     make(chan job, cfg.QueueSize),
		workers:   cfg.Workers,
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit hands fn to an idle worker or the queue without blocking and
// returns the task ID.
func (p *Pool) Submit(name string, fn TaskFunc) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrPoolClosed
	}
	p.cleanLocked(p.retention)

	task := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Status:      TaskPending,
		SubmittedAt: time.Now(),
	}
	select {
	case p.queue <- job{task: task, fn: fn}:
	default:
		return "", ErrPoolFull
	}
	p.tasks[task.ID] = task
	metrics.BackgroundTasks.Inc()

	p.logger.Debug("background task submitted", "id", task.ID, "name", name)
	return task.ID, nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	p.mu.Lock()
	j.task.Status = TaskRunning
	j.task.StartedAt = time.Now()
	p.mu.Unlock()

	err := p.call(j)

	p.mu.Lock()
	j.task.DoneAt = time.Now()
	if err != nil {
		j.task.Status = TaskFailed
		j.task.Error = err.Error()
	} else {
		j.task.Status = TaskComplete
	}
	p.mu.Unlock()
	metrics.BackgroundTasks.Dec()

	if err != nil {
		p.logger.Error("background task failed", "id", j.task.ID, "name", j.task.Name, "err", err)
	} else {
		p.logger.Debug("background task completed", "id", j.task.ID, "name", j.task.Name)
	}
}

// call runs the task body, converting a panic into an error.
func (p *Pool) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				"id", j.task.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(context.Background())
}

// Close stops intake and waits for queued and running tasks to finish or
// for ctx to end, whichever comes first. It is safe to call more than once.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
}

// Get returns a snapshot of a task.
func (p *Pool) Get(id string) (Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task, ok := p.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// ListActive returns tasks that are still pending or running.
func (p *Pool) ListActive() []Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var result []Task
	for _, t := range p.tasks {
		if t.Status == TaskPending || t.Status == TaskRunning {
			result = append(result, *t)
		}
	}
	return result
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Clean removes finished tasks older than maxAge.
func (p *Pool) Clean(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanLocked(maxAge)
}

func (p *Pool) cleanLocked(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range p.tasks {
		if (t.Status == TaskComplete || t.Status == TaskFailed) && t.DoneAt.Before(cutoff) {
			delete(p.tasks, id)
			removed++
		}
	}
	return removed
}
