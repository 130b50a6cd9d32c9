package ingest

import (
	"sync"
	"time"
)

// QueueStats is a snapshot of queue occupancy.
type QueueStats struct {
	Pending  int  `json:"pending"`
	Delayed  int  `json:"delayed"`
	InFlight int  `json:"in_flight"`
	Closed   bool `json:"closed"`
}

type delayedTask struct {
	task  *Task
	timer *time.Timer
}

// Queue is an unbounded FIFO of tasks keyed by source path. A path is held
// by at most one of the pending list, the delayed set and the in-flight set
// at any moment, so duplicate admissions are dropped and no two workers can
// own the same path.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*Task
	pending  map[string]*Task
	delayed  map[string]*delayedTask
	inFlight map[string]*Task
	closed   bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		pending:  make(map[string]*Task),
		delayed:  make(map[string]*delayedTask),
		inFlight: make(map[string]*Task),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits path for immediate delivery.
func (q *Queue) Enqueue(path string, size int64) (*Task, bool) {
	return q.EnqueueAfter(path, size, 0)
}

// EnqueueAfter admits path and makes it visible to Dequeue once delay has
// elapsed. It returns false if the path is already tracked or the queue is
// closed.
func (q *Queue) EnqueueAfter(path string, size int64, delay time.Duration) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.trackedLocked(path) {
		return nil, false
	}

	task := newTask(path, size)
	q.scheduleLocked(task, delay)
	return task, true
}

// Dequeue blocks until a task is available and claims it for the caller.
// It returns false once the queue is closed, even if tasks remain.
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	task := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	delete(q.pending, task.SourcePath)
	q.inFlight[task.SourcePath] = task
	return task, true
}

// Requeue releases an in-flight task and republishes it after delay.
// It returns false if the task is not owned or the queue is closed; in both
// cases the path is no longer tracked.
func (q *Queue) Requeue(task *Task, delay time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight[task.SourcePath] != task {
		return false
	}
	delete(q.inFlight, task.SourcePath)
	if q.closed {
		return false
	}

	task.State = StatePending
	q.scheduleLocked(task, delay)
	return true
}

// Complete releases an in-flight task after a terminal outcome.
func (q *Queue) Complete(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight[task.SourcePath] == task {
		delete(q.inFlight, task.SourcePath)
	}
}

// Close stops delivery. Blocked Dequeue calls return, scheduled
// republishes are cancelled and further admissions are refused.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for path, d := range q.delayed {
		d.timer.Stop()
		delete(q.delayed, path)
	}
	q.cond.Broadcast()
}

// Tracked reports whether path is pending, delayed or in flight.
func (q *Queue) Tracked(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.trackedLocked(path)
}

// Stats returns current occupancy.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Pending:  len(q.items),
		Delayed:  len(q.delayed),
		InFlight: len(q.inFlight),
		Closed:   q.closed,
	}
}

func (q *Queue) trackedLocked(path string) bool {
	if _, ok := q.pending[path]; ok {
		return true
	}
	if _, ok := q.delayed[path]; ok {
		return true
	}
	_, ok := q.inFlight[path]
	return ok
}

func (q *Queue) scheduleLocked(task *Task, delay time.Duration) {
	if delay <= 0 {
		q.pushLocked(task)
		return
	}

	d := &delayedTask{task: task}
	d.timer = time.AfterFunc(delay, func() { q.publish(d) })
	q.delayed[task.SourcePath] = d
}

func (q *Queue) publish(d *delayedTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Close may have won the race with the timer.
	if q.closed || q.delayed[d.task.SourcePath] != d {
		return
	}
	delete(q.delayed, d.task.SourcePath)
	q.pushLocked(d.task)
}

func (q *Queue) pushLocked(task *Task) {
	q.items = append(q.items, task)
	q.pending[task.SourcePath] = task
	q.cond.Signal()
}
