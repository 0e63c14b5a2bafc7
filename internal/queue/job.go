// Package queue is a small durable job queue for background scoring.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ScoreSubmission scores, or rescores, one attempt in the background.
const ScoreSubmission = "score-submission"

// ScorePayload is the payload of a ScoreSubmission job.
type ScorePayload struct {
	AttemptID       uuid.UUID `json:"attemptId"`
	StorageLocation string    `json:"storageLocation"`
	UserID          uuid.UUID `json:"userId"`
}

var ErrUnknownJob = errors.New("unknown job")

type Job struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"type:text;not null;index" json:"name"`
	Payload   datatypes.JSON `json:"payload"`
	Status    Status         `gorm:"type:text;not null;default:'pending';index" json:"status"`
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	LastError string         `gorm:"type:text" json:"last_error,omitempty"`
	RunAt     time.Time      `gorm:"not null;index" json:"run_at"`
	LockedAt  *time.Time     `json:"locked_at,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Name, err)
	}
	return nil
}

func newJob(name string, payload interface{}, now time.Time) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return &Job{
		Name:    name,
		Payload: datatypes.JSON(raw),
		Status:  StatusPending,
		RunAt:   now,
	}, nil
}

type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}) error
}

// Consumer hands out due jobs one at a time. Dequeue returns nil, nil when
// nothing is due. Complete records the outcome of a dequeued job; a non-nil err
// schedules a retry until the attempt limit is reached.
type Consumer interface {
	Dequeue(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job, err error) error
}

// Backoff returns the delay before retry number attempt (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt*attempt) * 5 * time.Second
}
