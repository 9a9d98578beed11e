package handler

import (
	"context"

	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/runner"
	"github.com/kiranshivaraju/whisperd/internal/worker"
)

// Jobs is the runner surface the submission handlers depend on.
type Jobs interface {
	Prepare(ctx context.Context, in runner.Input) (*runner.Job, code.Response)
	Enqueue(job *runner.Job) code.Response
	Execute(ctx context.Context, job *runner.Job) code.Response
	Reject(job *runner.Job, reason error) code.Response
}

// Scheduler hands work to the inference pool.
type Scheduler interface {
	Submit(task worker.Task) error
}

// Dispatcher materializes a submission on the request goroutine and runs
// inference on the pool.
type Dispatcher struct {
	jobs Jobs
	pool Scheduler
}

func NewDispatcher(jobs Jobs, pool Scheduler) *Dispatcher {
	return &Dispatcher{jobs: jobs, pool: pool}
}

// Dispatch returns the PENDING response right away when async is set;
// otherwise it waits for the worker's final response. A client that goes
// away does not cancel the job.
func (d *Dispatcher) Dispatch(ctx context.Context, in runner.Input, async bool) code.Response {
	job, resp := d.jobs.Prepare(ctx, in)
	if job == nil {
		return resp
	}

	pending := d.jobs.Enqueue(job)
	if pending.IsError() {
		return pending
	}

	done := make(chan code.Response, 1)
	err := d.pool.Submit(worker.Task{
		ID: job.ContentID,
		Run: func(ctx context.Context) {
			done <- d.jobs.Execute(ctx, job)
		},
	})
	if err != nil {
		return d.jobs.Reject(job, err)
	}

	if async {
		return pending
	}
	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return pending
	}
}
