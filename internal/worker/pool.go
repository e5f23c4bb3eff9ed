// Package worker runs small asynchronous jobs on a bounded pool, such as
// persisting playback positions reported over WebSocket.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job represents a unit of work to be executed.
type Job interface {
	Execute(ctx context.Context) error // The method that performs the actual work
	ID() string                        // A unique identifier for the job
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (j JobFunc) Execute(ctx context.Context) error { return j.Fn(ctx) }
func (j JobFunc) ID() string { return j.Name }

// Dispatcher manages a pool of workers and dispatches jobs to them.
type Dispatcher struct {
	MaxWorkers int
	JobTimeout time.Duration // per-job deadline; zero means none
	JobQueue   chan Job      // A buffered channel for incoming jobs

	log     logrus.FieldLogger
	wg      sync.WaitGroup // To wait for all workers to finish
	mu      sync.RWMutex
	running bool
	stopped bool
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(maxWorkers, jobQueueSize int, log logrus.FieldLogger) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if jobQueueSize < 0 {
		jobQueueSize = 0
	}
	return &Dispatcher{
		MaxWorkers: maxWorkers,
		JobTimeout: 10 * time.Second,
		JobQueue:   make(chan Job, jobQueueSize),
		log:        log.WithField("component", "worker"),
	}
}

// Run starts the workers.  Calling Run twice is a no-op.
func (d *Dispatcher) Run() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}
	d.running = true
	d.log.WithField("workers", d.MaxWorkers).Info("dispatcher starting")
	for i := 1; i <= d.MaxWorkers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for job := range d.JobQueue {
		d.execute(id, job)
	}
}

func (d *Dispatcher) execute(id int, job Job) {
	ctx := context.Background()
	if d.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{"worker": id, "job": job.ID(), "panic": r}).Error("job panicked")
		}
	}()
	if err := job.Execute(ctx); err != nil {
		d.log.WithFields(logrus.Fields{"worker": id, "job": job.ID()}).WithError(err).Warn("job failed")
		return
	}
	d.log.WithFields(logrus.Fields{"worker": id, "job": job.ID()}).Debug("job finished")
}

// Submit enqueues job without blocking.  It reports false when the queue is
// full or the dispatcher has been stopped.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.JobQueue <- job:
		return true
	default:
		d.log.WithField("job", job.ID()).Warn("job queue full, dropping job")
		return false
	}
}

// Stop refuses new jobs, lets the workers drain the queue and waits for
// them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.JobQueue)
	running := d.running
	d.mu.Unlock()

	if running {
		d.wg.Wait()
	}
	d.log.Info("dispatcher stopped")
}
