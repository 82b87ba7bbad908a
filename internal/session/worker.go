package session

type worker struct {
	pool  *workerPool
	jobCh chan Job
}

func newWorker(pool *workerPool) *worker {
	return &worker{
		pool:  pool,
		jobCh: make(chan Job),
	}
}

func (w *worker) start() {
	go func() {
		for job := range w.jobCh {
			if job.Type == Stop {
				w.pool.retire(w.jobCh)
				return
			}
			w.pool.exec(job)
			w.pool.release(w.jobCh)
		}
	}()
}
