package worker

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	w.pool.Release(w.jobChannel)
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				debugLog("[worker-%d] stop", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			job.execute()
			w.pool.Release(w.jobChannel)
		}
	}()
}
