package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribeflow/pkg/logger"
)

// memoryJob tracks the goroutine lifecycle of an in-process envelope.
type memoryJob struct {
	env    *Envelope
	state  string // queued | started | finished | failed
	cancel context.CancelFunc
	done   chan struct{}
}

// MemoryQueue is the in-process fallback backend. Each enqueued envelope
// runs on its own goroutine; metadata lives in memory only, so SaveMeta is
// a no-op and cross-process visibility does not apply.
type MemoryQueue struct {
	handler Handler

	mu   sync.RWMutex
	jobs map[string]*memoryJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryQueue builds the fallback queue around handler.
func NewMemoryQueue(handler Handler) *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		handler: handler,
		jobs:    make(map[string]*memoryJob),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *MemoryQueue) Backend() string { return "memory" }

// Start is a no-op: the fallback queue has no shared consumer pool.
func (q *MemoryQueue) Start() {}

// Stop cancels in-flight jobs and waits for their goroutines.
func (q *MemoryQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *MemoryQueue) Enqueue(ctx context.Context, function string, argv []string, meta Meta, timeout time.Duration) (*Envelope, error) {
	env := &Envelope{
		ID:       uuid.New().String(),
		Function: function,
		Argv:     argv,
		Timeout:  timeout,
		meta:     seedMeta(meta),
		q:        q,
	}
	job := &memoryJob{env: env, state: "queued", done: make(chan struct{})}

	q.mu.Lock()
	q.jobs[env.ID] = job
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(job)
	return env, nil
}

func (q *MemoryQueue) run(job *memoryJob) {
	defer q.wg.Done()

	ctx := q.ctx
	var cancel context.CancelFunc
	if job.env.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.env.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	q.mu.Lock()
	job.state = "started"
	job.cancel = cancel
	q.mu.Unlock()

	err := q.handler(ctx, job.env)

	final := "finished"
	if err != nil {
		final = "failed"
		msg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			msg = "timeout"
		}
		job.env.UpdateMeta(func(m Meta) {
			if m.GetString(MetaStatus) != StatusFailed {
				m[MetaStatus] = StatusFailed
			}
			if m.GetString(MetaErrorMessage) == "" {
				m[MetaErrorMessage] = msg
			}
		})
		logger.Error("In-process job failed", "envelope_id", job.env.ID, "error", err)
	} else if job.env.Meta().GetString(MetaStatus) == StatusFailed {
		final = "failed"
	}

	q.mu.Lock()
	job.state = final
	q.mu.Unlock()
	close(job.done)
}

func (q *MemoryQueue) Fetch(ctx context.Context, id string) (*Envelope, error) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return job.env, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, job := range q.jobs {
		if job.state == "queued" || job.state == "started" {
			n++
		}
	}
	return n, nil
}

// Wait blocks until the envelope's goroutine settles or the timeout
// elapses. Test helper, mirroring the drain utility the broker backend
// does not need.
func (q *MemoryQueue) Wait(id string, timeout time.Duration) bool {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case <-job.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// persister: metadata lives on the envelope itself.

func (q *MemoryQueue) saveMeta(ctx context.Context, id string, meta Meta) error { return nil }

func (q *MemoryQueue) loadMeta(ctx context.Context, id string) (Meta, error) { return nil, nil }

func (q *MemoryQueue) status(id string) string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if job, ok := q.jobs[id]; ok {
		return job.state
	}
	return ""
}
