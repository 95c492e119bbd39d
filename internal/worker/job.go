package worker

import (
	"context"
	"fmt"
)

type JobType int

const (
	Run JobType = iota
	Stop
)

func (t JobType) String() string {
	if t == Stop {
		return "stop"
	}
	return "run"
}

// JobFunc is the unit of work submitted for a session.
type JobFunc func(ctx context.Context) error

type Job struct {
	Type      JobType
	SessionID string

	ctx    context.Context
	fn     JobFunc
	result chan error
	done   func(sessionID string)
}

// execute runs the job unless its submitter already gave up, and reports the outcome.
func (job Job) execute() {
	var err error
	if err = job.ctx.Err(); err == nil {
		err = job.call()
	}
	job.result <- err
	if job.done != nil {
		job.done(job.SessionID)
	}
}

func (job Job) wait() error {
	select {
	case err := <-job.result:
		return err
	case <-job.ctx.Done():
		return job.ctx.Err()
	}
}

func (job Job) call() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job for session %s panicked: %v", job.SessionID, r)
		}
	}()
	return job.fn(job.ctx)
}
