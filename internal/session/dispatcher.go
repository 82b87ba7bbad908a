package session

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherBusy is returned when the job queue cannot absorb more work.
var ErrDispatcherBusy = errors.New("dispatcher queue full")

type sessionQueue struct {
	jobs     []Job
	enqueued bool // key is in the ready list
	running  bool // a job for this session is on a worker
}

// Dispatcher fans jobs out to the worker pool with per-session FIFO ordering
// and LRU fairness across sessions. A session's next job is not dispatched
// until the previous one finished, so one session's mutations never run
// concurrently.
type Dispatcher struct {
	pool     *workerPool
	jobQueue chan Job
	wake     chan struct{}

	mu        sync.Mutex
	queues    map[string]*sessionQueue
	ready     *list.List // LRU queue of session keys
	positions map[string]*list.Element
}

// DispatcherConfig sizes the pool and its intake queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d.execJob)
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Enqueue hands a job to the dispatcher, rejecting when saturated.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// CancelSession drops any queued jobs for a session key. The job currently
// running, if any, is left to finish.
func (d *Dispatcher) CancelSession(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[key]; ok && q.running {
		q.jobs = nil
		q.enqueued = false
	} else {
		delete(d.queues, key)
	}
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			// nothing dispatchable, block for new work or a finished job
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.wake:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	key := job.sessionKey()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if q == nil {
		q = &sessionQueue{}
		d.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(key)
	d.positions[key] = elem
}

// dispatchOne pops the first ready session and hands one of its jobs to a
// worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.running = true
	q.enqueued = false
	d.ready.Remove(elem)
	delete(d.positions, key)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign %s job for session %s", job.Type, key)
	workerChan <- job
	return true
}

// execJob runs on a pool worker. After the task completes, the session
// becomes dispatchable again.
func (d *Dispatcher) execJob(job Job) {
	switch job.Type {
	case Send:
		task := job.SendTask
		err := task.session.Ctrl.Send(task.ctx, task.prompt, task.model, task.notify)
		task.resultCh <- err
	case Image:
		task := job.ImageTask
		ref, err := task.session.Ctrl.GenerateImage(task.ctx, task.prompt, task.notify)
		task.resultCh <- imageResult{ref: ref, err: err}
	}
	d.jobDone(job.sessionKey())
}

func (d *Dispatcher) jobDone(key string) {
	d.mu.Lock()
	q, ok := d.queues[key]
	if ok {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, key)
		} else if !q.enqueued {
			q.enqueued = true
			elem := d.ready.PushBack(key)
			d.positions[key] = elem
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
