package service

import (
	"sync"

	"go.uber.org/zap"
)

// Dispatcher runs outbound work (ack replies, template sends, event
// publication) on a fixed pool of background workers so HTTP handlers never
// wait on network I/O. The queue is bounded: when it is full the task is
// dropped and logged rather than blocking the caller or growing without
// limit. There is no retry — a failed or dropped send is gone.
type Dispatcher struct {
	log   *zap.Logger
	tasks chan func()

	closeOnce sync.Once
	wg        sync.WaitGroup
}

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// NewDispatcher starts workers goroutines draining a queue of queueSize
// tasks. Non-positive arguments fall back to the defaults.
func NewDispatcher(workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	d := &Dispatcher{
		log:   log,
		tasks: make(chan func(), queueSize),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit enqueues a task for background execution. Returns false when the
// queue is full and the task was dropped.
func (d *Dispatcher) Submit(task func()) bool {
	select {
	case d.tasks <- task:
		return true
	default:
		d.log.Warn("dispatcher queue full, dropping task")
		return false
	}
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.tasks)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		d.run(task)
	}
}

func (d *Dispatcher) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in background task", zap.Any("panic", r))
		}
	}()
	task()
}
