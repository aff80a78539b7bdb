package generators

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"AI-Adventure/server/internal/llm"
)

var (
	ErrQueueFull    = errors.New("image queue is full")
	ErrQueueStopped = errors.New("image queue is stopped")
)

// Job is one unit of image work run by a queue worker
type Job func(ctx context.Context) (*llm.ImageResult, error)

type queueRequest struct {
	ctx       context.Context
	job       Job
	createdAt time.Time
	done      chan queueResult
}

type queueResult struct {
	image *llm.ImageResult
	err   error
}

// ImageQueue bounds how many image generations run at once. Requests beyond
// the worker count wait in a fixed-size buffer; a full buffer rejects.
type ImageQueue struct {
	requests chan *queueRequest
	workers  int

	mu      sync.RWMutex
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup

	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// QueueStats is a snapshot of queue counters
type QueueStats struct {
	Workers   int   `json:"workers"`
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// NewImageQueue creates a queue with the given worker count and buffer size
func NewImageQueue(workers, size int) *ImageQueue {
	if workers <= 0 {
		workers = 1
	}
	if size < 0 {
		size = 0
	}
	return &ImageQueue{
		requests: make(chan *queueRequest, size),
		workers:  workers,
		quit:     make(chan struct{}),
	}
}

// Start starts the queue workers
func (q *ImageQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	log.Printf("[ImageQueue] started %d workers", q.workers)
}

// Stop stops the workers and fails every request still waiting
func (q *ImageQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()
	for {
		select {
		case req := <-q.requests:
			q.queued.Dec()
			req.done <- queueResult{err: ErrQueueStopped}
		default:
			return
		}
	}
}

// Submit runs job on a worker and waits for its result
func (q *ImageQueue) Submit(ctx context.Context, job Job) (*llm.ImageResult, error) {
	req := &queueRequest{
		ctx:       ctx,
		job:       job,
		createdAt: time.Now(),
		done:      make(chan queueResult, 1),
	}

	if err := q.enqueue(req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.done:
		return res.image, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the current queue counters
func (q *ImageQueue) Stats() QueueStats {
	return QueueStats{
		Workers:   q.workers,
		Queued:    q.queued.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *ImageQueue) enqueue(req *queueRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return ErrQueueStopped
	}
	select {
	case q.requests <- req:
		q.queued.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *ImageQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case req := <-q.requests:
			q.queued.Dec()
			q.run(req)
		}
	}
}

func (q *ImageQueue) run(req *queueRequest) {
	if err := req.ctx.Err(); err != nil {
		q.failed.Inc()
		req.done <- queueResult{err: err}
		return
	}

	q.active.Inc()
	image, err := req.job(req.ctx)
	q.active.Dec()

	if err != nil {
		q.failed.Inc()
	} else {
		q.completed.Inc()
	}
	if waited := time.Since(req.createdAt); waited > time.Minute {
		log.Printf("[ImageQueue] job finished after %s", waited.Round(time.Second))
	}
	req.done <- queueResult{image: image, err: err}
}
