package taskqueue

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/asset-runtime/errors"
)

// Config holds WorkerPool configuration.
type Config struct {
	// Workers is the number of worker goroutines. 0 means GOMAXPROCS.
	Workers int

	// QueueSize is the task buffer size. 0 means 4x workers, at least 8.
	QueueSize int

	// OnError is the unhandled-task policy. nil means LogErrors.
	OnError ErrorHandler
}

// WorkerPool is a fixed set of goroutines executing scheduled tasks.
//
// Tasks are pulled from a shared buffered queue. Schedule blocks while the
// buffer is full until a worker frees a slot or Close begins, so tasks should
// not schedule follow-up work and then wait for it.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	tasks   chan Task
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	onError ErrorHandler

	// mu orders Schedule sends against Close closing the channel. quit is
	// closed first so blocked senders let go of mu.
	mu      sync.RWMutex
	quit    chan struct{}
	stop    sync.Once
	running atomic.Bool
	workers int

	scheduled atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// NewWorkerPool creates and starts a worker pool.
func NewWorkerPool(cfg *Config) *WorkerPool {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 4
		if c.QueueSize < 8 {
			c.QueueSize = 8
		}
	}
	if c.OnError == nil {
		c.OnError = LogErrors
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		tasks:   make(chan Task, c.QueueSize),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		onError: c.OnError,
		workers: c.Workers,
	}
	p.running.Store(true)

	for i := 0; i < c.Workers; i++ {
		p.group.Go(p.worker)
	}

	Logger().Debug("worker pool started",
		zap.Int("workers", c.Workers),
		zap.Int("queue_size", c.QueueSize))

	return p
}

// Schedule submits a task for execution.
func (p *WorkerPool) Schedule(task Task) error {
	if task == nil {
		return errors.InvalidInput(errors.PhaseQueue, "nil task")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return errors.Closed(errors.PhaseQueue, "worker pool")
	}

	select {
	case <-p.quit:
		return errors.Closed(errors.PhaseQueue, "worker pool")
	default:
	}

	p.scheduled.Add(1)
	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		p.scheduled.Add(^uint64(0))
		return errors.Closed(errors.PhaseQueue, "worker pool")
	}
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Stats returns task counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Scheduled: p.scheduled.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Close stops accepting tasks, runs everything already queued and waits for
// the workers to exit. If ctx ends first the task context is cancelled and
// ctx's error is returned; workers still finish in the background.
func (p *WorkerPool) Close(ctx context.Context) error {
	p.stop.Do(func() { close(p.quit) })

	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.running.Store(false)
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		return multierr.Append(ctx.Err(), errors.Closed(errors.PhaseQueue, "worker pool (tasks still draining)"))
	}
}

func (p *WorkerPool) worker() error {
	for task := range p.tasks {
		p.run(task)
	}
	return nil
}

// run executes one task, routing errors and panics to the policy.
func (p *WorkerPool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.onError(errors.Panic(errors.PhaseQueue, r))
		}
	}()

	if err := task(p.ctx); err != nil {
		p.failed.Add(1)
		p.onError(err)
		return
	}
	p.completed.Add(1)
}
