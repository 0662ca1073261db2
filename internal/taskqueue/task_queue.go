package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	log "github.com/sirupsen/logrus"
)

// ErrTaskExpired is returned when a task sat in the queue longer than MaxAge.
var ErrTaskExpired = errors.New("task expired")

// Task is one unit of work identified by Key. A key is queued at most once
// at a time.
type Task struct {
	Key string
	Run func(ctx context.Context) error
	// Retry reports whether a failed run is queued again. Nil never retries.
	Retry func(error) bool
	// MaxRuns bounds retries; zero means a single run.
	MaxRuns   int
	CreatedAt time.Time

	runs int
}

func NewTask(key string, run func(ctx context.Context) error) *Task {
	return &Task{Key: key, Run: run, CreatedAt: time.Now()}
}

// execute runs the task under ctx and turns panics into errors.
func (t *Task) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task execution: %v", r)
		}
	}()

	t.runs++
	return t.Run(ctx)
}

func (t *Task) shouldRetry(err error) bool {
	return t.Retry != nil && t.Retry(err) && t.runs < t.MaxRuns
}

// Queue executes tasks one at a time, in submission order.
type Queue struct {
	pool    *workerpool.WorkerPool
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	maxAge  time.Duration

	mu     sync.Mutex
	queued map[string]struct{}
	wg     sync.WaitGroup
}

// NewQueue creates a sequential queue. Each run gets timeout (zero for no
// limit) and tasks older than maxAge are dropped (zero keeps them).
func NewQueue(timeout, maxAge time.Duration) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		// a single worker keeps execution sequential
		pool:    workerpool.New(1),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
		maxAge:  maxAge,
		queued:  make(map[string]struct{}),
	}
}

// Add queues task and reports whether it was accepted. A task whose key is
// already queued or running is rejected.
func (q *Queue) Add(task *Task) bool {
	q.mu.Lock()
	if _, ok := q.queued[task.Key]; ok {
		q.mu.Unlock()
		return false
	}
	q.queued[task.Key] = struct{}{}
	q.mu.Unlock()

	q.submit(task)
	return true
}

func (q *Queue) submit(task *Task) {
	q.wg.Add(1)
	q.pool.Submit(func() {
		q.process(task)
	})
}

func (q *Queue) process(task *Task) {
	defer q.wg.Done()

	logger := log.WithField("task", task.Key)

	if q.expired(task) {
		logger.WithError(ErrTaskExpired).Warn("dropping task")
		q.forget(task)
		return
	}
	if q.ctx.Err() != nil {
		q.forget(task)
		return
	}

	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(q.ctx, q.timeout)
		defer cancel()
	}

	err := task.execute(ctx)
	if err == nil {
		q.forget(task)
		return
	}

	if task.shouldRetry(err) {
		logger.WithError(err).WithField("runs", task.runs).Debug("retrying task")
		q.submit(task)
		return
	}
	logger.WithError(err).WithField("runs", task.runs).Warn("task failed")
	q.forget(task)
}

func (q *Queue) expired(task *Task) bool {
	return q.maxAge > 0 && time.Since(task.CreatedAt) > q.maxAge
}

func (q *Queue) forget(task *Task) {
	q.mu.Lock()
	delete(q.queued, task.Key)
	q.mu.Unlock()
}

// Pending returns the number of queued or running tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// Wait waits for all tasks to complete
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close cancels running tasks, skips queued ones and waits for the worker.
func (q *Queue) Close() {
	q.cancel()
	q.pool.StopWait()
	q.wg.Wait()
}
