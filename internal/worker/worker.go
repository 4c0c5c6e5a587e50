package worker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDispatcherBusy is returned when the pending job limit is reached.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrJobCancelled completes queued jobs dropped by CancelUser.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrDispatcherClosed is returned by Do after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Job is one unit of user work.
type Job struct {
	UserID string

	ctx  context.Context
	fn   func(context.Context) error
	done chan error
	stop bool // tells the receiving worker to exit
}

func newJob(ctx context.Context, userID string, fn func(context.Context) error) *Job {
	return &Job{UserID: userID, ctx: ctx, fn: fn, done: make(chan error, 1)}
}

func (j *Job) run() {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	j.done <- j.call()
}

func (j *Job) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan *Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan *Job),
	}
}

func (w *Worker) Start() {
	go func() {
		debugLog("worker started", "worker", w.id)
		for {
			select {
			case job := <-w.jobChannel:
				if job.stop {
					debugLog("worker expired", "worker", w.id)
					return
				}
				debugLog("worker running job", "worker", w.id, "user_id", job.UserID)
				job.run()
				w.pool.Release(w.jobChannel)
			case <-w.pool.quit:
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}
