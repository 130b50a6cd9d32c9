package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framegrab/internal/errors"
)

// PoolConfig sizes the pool and sets its retry behavior.
type PoolConfig struct {
	Workers       int
	StabilityWait time.Duration
	Retry         RetryPolicy
}

// PoolStats combines queue occupancy with outcome counters.
type PoolStats struct {
	Workers   int        `json:"workers"`
	Queue     QueueStats `json:"queue"`
	Submitted int64      `json:"submitted"`
	Rejected  int64      `json:"rejected"`
	Succeeded int64      `json:"succeeded"`
	Failed    int64      `json:"failed"`
	Retried   int64      `json:"retried"`
	Exhausted int64      `json:"exhausted"`
}

// Pool is a fixed set of workers draining a Queue through a Processor.
type Pool struct {
	cfg       PoolConfig
	queue     *Queue
	processor Processor
	poison    PoisonList
	logger    hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	submitted atomic.Int64
	rejected  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	exhausted atomic.Int64
}

// NewPool creates a pool. poison may be nil.
func NewPool(cfg PoolConfig, queue *Queue, processor Processor, poison PoisonList, logger hclog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		queue:     queue,
		processor: processor,
		poison:    poison,
		logger:    logger.Named("pool"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("worker pool started", "workers", p.cfg.Workers)
	})
}

// Submit admits a source after checking the poison list. The task becomes
// visible to workers once the stability wait has elapsed.
func (p *Pool) Submit(path string, size int64) bool {
	if p.isPoisoned(path) {
		p.rejected.Add(1)
		return false
	}

	task, ok := p.queue.EnqueueAfter(path, size, p.cfg.StabilityWait)
	if !ok {
		p.logger.Debug("ignoring duplicate or late submission", "path", path)
		return false
	}

	p.submitted.Add(1)
	p.logger.Debug("task admitted", "path", path, "task_id", task.ID, "size", size)
	return true
}

// Stop closes the queue and waits for in-flight attempts to finish. No task
// is dequeued and no retry is scheduled once Stop has begun.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool", "in_flight", p.queue.Stats().InFlight)
		p.queue.Close()
		p.wg.Wait()
		p.cancel()
		p.logger.Info("worker pool stopped")
	})
}

// Abort cancels the context of in-flight attempts.
func (p *Pool) Abort() {
	p.cancel()
}

// Shutdown stops the pool, aborting in-flight attempts if they are still
// running after timeout. A zero timeout waits indefinitely. It reports
// whether every attempt finished on its own.
func (p *Pool) Shutdown(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.logger.Warn("shutdown timeout exceeded, aborting in-flight attempts", "timeout", timeout)
		p.Abort()
		<-done
		return false
	}
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.cfg.Workers,
		Queue:     p.queue.Stats(),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker", id)
	for {
		task, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		set, err := p.attempt(task)
		p.settle(log, task, set, err)
	}
}

// attempt runs the processor, turning a panic into an internal error so a
// single bad task cannot take the worker down.
func (p *Pool) attempt(task *Task) (set *ArtifactSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ferrors.Internal("process", fmt.Errorf("panic: %v", r)).
				WithPath(task.SourcePath).
				WithDetail("stack", string(debug.Stack()))
		}
	}()

	task.Attempt++
	return p.processor.Process(p.ctx, task)
}

func (p *Pool) settle(log hclog.Logger, task *Task, set *ArtifactSet, err error) {
	log = log.With("path", task.SourcePath, "task_id", task.ID, "attempt", task.Attempt)

	if err == nil {
		task.State = StateSucceeded
		task.LastErr = nil
		p.succeeded.Add(1)
		p.queue.Complete(task)

		artifacts := 0
		if set != nil {
			artifacts = set.Count()
		}
		log.Info("task succeeded", "artifacts", artifacts)
		return
	}

	task.State = StateFailed
	task.LastErr = err
	p.failed.Add(1)

	if errors.Is(err, ferrors.ErrShuttingDown) || p.ctx.Err() != nil {
		p.queue.Complete(task)
		log.Warn("attempt interrupted by shutdown", "error", err)
		return
	}

	delay, retry := p.cfg.Retry.Next(task.Attempt)
	if !retry || !ferrors.IsRetryable(err) {
		p.exhaust(log, task, err)
		return
	}

	if !p.queue.Requeue(task, delay) {
		log.Warn("attempt failed while shutting down, no further retries",
			"kind", ferrors.GetKind(err),
			"error", err)
		return
	}

	p.retried.Add(1)
	log.Warn("attempt failed, retry scheduled",
		"kind", ferrors.GetKind(err),
		"op", ferrors.GetOp(err),
		"error", err,
		"backoff", delay)
}

func (p *Pool) exhaust(log hclog.Logger, task *Task, err error) {
	task.State = StateExhausted

	log.Error("retries exhausted, leaving source in place",
		"kind", ferrors.GetKind(err),
		"op", ferrors.GetOp(err),
		"details", ferrors.GetDetails(err),
		"error", err)

	p.recordPoisoned(log, task, err)
	p.exhausted.Add(1)
	p.queue.Complete(task)
}

func (p *Pool) recordPoisoned(log hclog.Logger, task *Task, err error) {
	if p.poison == nil {
		return
	}
	info, statErr := os.Stat(task.SourcePath)
	if statErr != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if addErr := p.poison.Add(ctx, task.SourcePath, info.Size(), info.ModTime(), task.Attempt, err.Error()); addErr != nil {
		log.Error("failed to record poisoned source", "error", addErr)
	}
}

func (p *Pool) isPoisoned(path string) bool {
	if p.poison == nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	blocked, err := p.poison.Blocked(ctx, path, info.Size(), info.ModTime())
	if err != nil {
		p.logger.Warn("poison lookup failed, admitting source", "path", path, "error", err)
		return false
	}
	if blocked {
		p.logger.Info("source previously exhausted its retries, skipping", "path", path)
	}
	return blocked
}
