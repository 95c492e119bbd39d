package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDispatcherBusy is returned by Submit when the intake queue is full.
	ErrDispatcherBusy    = errors.New("dispatcher queue full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type sessionQueue struct {
	jobs     []Job
	enqueued bool // in the ready list
	running  bool // one job on a worker
}

// Dispatcher runs jobs on an elastic worker pool. Jobs of one session run one at a time in
// submission order; sessions with pending jobs take turns in least-recently-served order.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake for Submit

	mu        sync.Mutex
	queues    map[string]*sessionQueue // pending jobs per session
	ready     *list.List               // LRU queue of session IDs
	positions map[string]*list.Element

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout)

	d := &Dispatcher{
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  make(chan Job, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	// warm up the minimum number of workers
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit enqueues fn for sessionID without blocking and waits for its result. A full
// intake queue fails fast with ErrDispatcherBusy; a cancelled ctx stops the wait and keeps
// the job from starting if it has not yet.
func (d *Dispatcher) Submit(ctx context.Context, sessionID string, fn JobFunc) error {
	job, err := d.enqueue(ctx, sessionID, fn)
	if err != nil {
		return err
	}
	return job.wait()
}

func (d *Dispatcher) enqueue(ctx context.Context, sessionID string, fn JobFunc) (Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	job := Job{
		Type:      Run,
		SessionID: sessionID,
		ctx:       ctx,
		fn:        fn,
		result:    make(chan error, 1),
		done:      d.complete,
	}
	select {
	case <-d.stop:
		return job, ErrDispatcherStopped
	default:
	}
	select {
	case d.JobQueue <- job:
		return job, nil
	default:
		return job, ErrDispatcherBusy
	}
}

// Close stops dispatching and retires idle workers. Jobs already on a worker finish.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
		d.pool.close()
	})
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the session in the front of the LRU queue
		if d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.stop:
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.stop:
			return
		}
	}
}

// CancelSession drops every queued job of the session; their submitters get context.Canceled.
func (d *Dispatcher) CancelSession(sessionID string) {
	d.mu.Lock()
	q := d.queues[sessionID]
	var dropped []Job
	if q != nil {
		dropped = q.jobs
		q.jobs = nil
		if !q.running {
			delete(d.queues, sessionID)
		}
	}
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		if q != nil {
			q.enqueued = false
		}
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.result <- context.Canceled
	}
}

// Pending counts jobs queued but not yet on a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.JobQueue)
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	d.markReadyLocked(job.SessionID, q)
}

func (d *Dispatcher) markReadyLocked(sessionID string, q *sessionQueue) {
	if q.enqueued || q.running || len(q.jobs) == 0 {
		return
	}
	q.enqueued = true
	d.positions[sessionID] = d.ready.PushBack(sessionID)
}

// dispatchOne hands the next job of the least recently served session to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	// the session leaves the ready list until its job completes
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, sessionID)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign job for session %s to worker-%d", sessionID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// complete is called by a worker after a job of sessionID finished.
func (d *Dispatcher) complete(sessionID string) {
	d.mu.Lock()
	if q := d.queues[sessionID]; q != nil {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, sessionID)
		} else {
			d.markReadyLocked(sessionID, q)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
