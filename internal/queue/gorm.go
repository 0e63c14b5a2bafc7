package queue

import (
	"context"
	"errors"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A running job whose lock is older than this is assumed abandoned by a crashed worker.
const lockTimeout = 5 * time.Minute

// GormQueue stores jobs in the control-plane database. On Postgres concurrent
// consumers claim rows with FOR UPDATE SKIP LOCKED.
type GormQueue struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

func NewGormQueue(db *gorm.DB, maxAttempts int) *GormQueue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &GormQueue{db: db, maxAttempts: maxAttempts, now: time.Now}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}

func (q *GormQueue) Enqueue(ctx context.Context, name string, payload interface{}) error {
	job, err := newJob(name, payload, q.now())
	if err != nil {
		return err
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		config.WithContext(ctx).WithError(err).WithField("job", name).Error("Failed to enqueue job")
		return err
	}
	config.WithContext(ctx).WithFields(map[string]interface{}{
		"job":    name,
		"job_id": job.ID,
	}).Debug("Job enqueued")
	return nil
}

func (q *GormQueue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.now()
	var claimed *Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sel := tx.Where("(status = ? AND run_at <= ?) OR (status = ? AND locked_at < ?)",
			StatusPending, now, StatusRunning, now.Add(-lockTimeout)).
			Order("run_at ASC")
		if tx.Dialector.Name() == "postgres" {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job Job
		if err := sel.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		job.Status = StatusRunning
		job.Attempts++
		job.LockedAt = &now
		if err := tx.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":    job.Status,
			"attempts":  job.Attempts,
			"locked_at": job.LockedAt,
		}).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *GormQueue) Complete(ctx context.Context, job *Job, jobErr error) error {
	fields := map[string]interface{}{"locked_at": nil}

	switch {
	case jobErr == nil:
		fields["status"] = StatusDone
		fields["last_error"] = ""
	case job.Attempts >= q.maxAttempts:
		fields["status"] = StatusFailed
		fields["last_error"] = jobErr.Error()
	default:
		fields["status"] = StatusPending
		fields["last_error"] = jobErr.Error()
		fields["run_at"] = q.now().Add(Backoff(job.Attempts))
	}

	if err := q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(fields).Error; err != nil {
		config.WithContext(ctx).WithError(err).WithField("job_id", job.ID).Error("Failed to record job outcome")
		return err
	}
	job.Status = fields["status"].(Status)
	return nil
}
