package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue keeps jobs in process. Used by tests and single-process setups
// where losing queued jobs on restart is acceptable.
type MemoryQueue struct {
	maxAttempts int
	now         func() time.Time

	mu   sync.Mutex
	jobs []*Job
}

func NewMemoryQueue(maxAttempts int) *MemoryQueue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &MemoryQueue{maxAttempts: maxAttempts, now: time.Now}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, name string, payload interface{}) error {
	job, err := newJob(name, payload, q.now())
	if err != nil {
		return err
	}
	job.ID = uuid.New()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Status == StatusPending && !job.RunAt.After(now) {
			job.Status = StatusRunning
			job.Attempts++
			job.LockedAt = &now
			c := *job
			return &c, nil
		}
	}
	return nil, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, job *Job, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, stored := range q.jobs {
		if stored.ID != job.ID {
			continue
		}
		stored.LockedAt = nil
		switch {
		case jobErr == nil:
			stored.Status = StatusDone
			stored.LastError = ""
		case stored.Attempts >= q.maxAttempts:
			stored.Status = StatusFailed
			stored.LastError = jobErr.Error()
		default:
			stored.Status = StatusPending
			stored.LastError = jobErr.Error()
			stored.RunAt = q.now().Add(Backoff(stored.Attempts))
		}
		job.Status = stored.Status
		return nil
	}
	return ErrUnknownJob
}

// Jobs returns a snapshot of every job, in enqueue order.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	return out
}
