// Package worker runs user jobs on an elastic pool of goroutines. Users take
// turns so one busy user cannot starve the others.
package worker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

type userQueue struct {
	jobs []*Job
}

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int // jobs waiting for a worker, across all users
	IdleTimeout time.Duration
	// Broadcaster, when set, spreads CancelUser to other instances.
	Broadcaster *Broadcaster
	Logger      *slog.Logger
}

type Dispatcher struct {
	pool   *jobChannelPool
	limit  int
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	pending   int
	queues    map[string]*userQueue // job queue for each user
	ready     *list.List            // round-robin line of user IDs
	positions map[string]*list.Element

	wake    chan struct{}
	quit    chan struct{}
	runDone chan struct{}

	broadcaster *Broadcaster
	stopListen  context.CancelFunc
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		pool:        newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		limit:       cfg.QueueSize,
		logger:      cfg.Logger.With("component", "dispatcher"),
		queues:      make(map[string]*userQueue),
		ready:       list.New(),
		positions:   make(map[string]*list.Element),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		runDone:     make(chan struct{}),
		broadcaster: cfg.Broadcaster,
	}

	// warm up
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	if d.broadcaster != nil {
		ctx, cancel := context.WithCancel(context.Background())
		d.stopListen = cancel
		if err := d.broadcaster.listen(ctx, func(userID string) { d.cancelLocal(userID) }); err != nil {
			d.logger.Warn("cancel broadcast unavailable, cancelling locally only", "error", err)
		}
	}

	go d.run()
	return d
}

// Do queues fn for userID and waits for it to finish. fn receives ctx. If
// ctx ends while the job is still queued it is dropped and ctx.Err() is
// returned.
func (d *Dispatcher) Do(ctx context.Context, userID string, fn func(context.Context) error) error {
	job := newJob(ctx, userID, fn)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if d.pending >= d.limit {
		d.mu.Unlock()
		return ErrDispatcherBusy
	}
	d.enqueueLocked(job)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		if d.remove(job) {
			return ctx.Err()
		}
		return <-job.done
	}
}

// CancelUser drops userID's queued jobs here and, with a broadcaster, on
// every other instance. Running jobs are left to their own contexts.
func (d *Dispatcher) CancelUser(ctx context.Context, userID string) int {
	n := d.cancelLocal(userID)
	if d.broadcaster != nil {
		d.broadcaster.publish(ctx, userID)
	}
	return n
}

func (d *Dispatcher) cancelLocal(userID string) int {
	d.mu.Lock()
	dropped := d.dropLocked(userID)
	d.mu.Unlock()

	for _, job := range dropped {
		job.done <- ErrJobCancelled
	}
	if len(dropped) > 0 {
		debugLog("cancelled queued jobs", "user_id", userID, "count", len(dropped))
	}
	return len(dropped)
}

// Stats reports running and idle workers and jobs waiting for a worker.
func (d *Dispatcher) Stats() (running, idle, pending int) {
	running, idle = d.pool.stats()
	d.mu.Lock()
	pending = d.pending
	d.mu.Unlock()
	return running, idle, pending
}

// Close stops dispatching. Queued jobs complete with ErrDispatcherClosed;
// running jobs finish normally.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	if d.stopListen != nil {
		d.stopListen()
	}
	close(d.quit)
	d.pool.close()
	<-d.runDone

	d.mu.Lock()
	var dropped []*Job
	for userID := range d.queues {
		dropped = append(dropped, d.dropLocked(userID)...)
	}
	d.mu.Unlock()
	for _, job := range dropped {
		job.done <- ErrDispatcherClosed
	}
}

func (d *Dispatcher) run() {
	defer close(d.runDone)
	for {
		if d.dispatchOne() {
			continue
		}
		select {
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueLocked(job *Job) {
	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	if _, waiting := d.positions[job.UserID]; waiting {
		// user already waiting for a turn
		return
	}
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// dropLocked removes every queued job of userID and returns them.
func (d *Dispatcher) dropLocked(userID string) []*Job {
	q := d.queues[userID]
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	if q == nil {
		return nil
	}
	d.pending -= len(q.jobs)
	return q.jobs
}

// remove drops a job that has not been handed to a worker yet.
func (d *Dispatcher) remove(job *Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		return false
	}
	for i, queued := range q.jobs {
		if queued != job {
			continue
		}
		if len(q.jobs) == 1 {
			d.dropLocked(job.UserID)
			return true
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		d.pending--
		return true
	}
	return false
}

// dispatchOne waits for a worker, then hands it the oldest job of the user
// at the front of the line. Jobs stay cancellable until that point.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	waiting := d.ready.Len() > 0
	d.mu.Unlock()
	if !waiting {
		return false
	}

	workerChan := d.pool.acquire()
	if workerChan == nil {
		// pool closed
		return false
	}

	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		// cancelled while we waited for the worker
		d.mu.Unlock()
		d.pool.Release(workerChan)
		return false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.pending--
	if len(q.jobs) == 0 {
		// last job of this user, leave the line
		delete(d.queues, userID)
		d.ready.Remove(elem)
		delete(d.positions, userID)
	} else {
		// back of the line
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	debugLog("assign job", "user_id", userID, "worker", d.pool.workerID(workerChan))
	select {
	case workerChan <- job:
	case <-d.pool.quit:
		job.done <- ErrDispatcherClosed
	}
	return true
}
