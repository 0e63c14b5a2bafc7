package worker

import (
	"context"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Pool runs Concurrency independent consumer loops. Each loop handles one job
// at a time.
type Pool struct {
	consumer     queue.Consumer
	worker       *Worker
	concurrency  int
	pollInterval time.Duration
}

func NewPool(consumer queue.Consumer, worker *Worker, concurrency int, pollInterval time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		consumer:     consumer,
		worker:       worker,
		concurrency:  concurrency,
		pollInterval: pollInterval,
	}
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	config.WithContext(ctx).WithField("concurrency", p.concurrency).Info("Scoring worker pool started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	err := g.Wait()

	config.Logger.Info("Scoring worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := config.WithContext(ctx).WithField("worker", id)

	for ctx.Err() == nil {
		job, err := p.consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Error("Failed to dequeue job")
			}
			p.wait(ctx)
			continue
		}
		if job == nil {
			p.wait(ctx)
			continue
		}

		jobErr := p.worker.Handle(ctx, job)
		if jobErr != nil {
			log.WithError(jobErr).WithFields(map[string]interface{}{
				"job_id":   job.ID,
				"attempts": job.Attempts,
			}).Warn("Job failed")
		}
		// The outcome is recorded even when shutdown interrupted the job.
		if err := p.consumer.Complete(context.WithoutCancel(ctx), job, jobErr); err != nil {
			log.WithError(err).WithField("job_id", job.ID).Error("Failed to complete job")
		}
	}
}

func (p *Pool) wait(ctx context.Context) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
