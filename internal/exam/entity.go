package exam

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultDurationMinutes = 60
	DefaultPassThreshold   = 50
	// DefaultQuestionCount applies when a distribution entry has no positive count.
	DefaultQuestionCount = 10
)

type Distribution struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

// Test is an exam template. The session engine only ever reads it.
type Test struct {
	ID              uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string                            `gorm:"type:text;not null" json:"name"`
	DurationMinutes int                               `gorm:"not null;default:60" json:"duration_minutes"`
	PassThreshold   float64                           `gorm:"not null;default:50" json:"pass_threshold"`
	Distribution    datatypes.JSONSlice[Distribution] `json:"distribution"`
	AvailableFrom   *time.Time                        `json:"available_from,omitempty"`
	AvailableUntil  *time.Time                        `json:"available_until,omitempty"`
	CreatedAt       time.Time                         `gorm:"autoCreateTime" json:"created_at"`
}

func (t *Test) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.DurationMinutes <= 0 {
		t.DurationMinutes = DefaultDurationMinutes
	}
	return nil
}

// AvailableAt reports whether now falls inside the configured window. Open
// bounds are unrestricted.
func (t *Test) AvailableAt(now time.Time) bool {
	if t.AvailableFrom != nil && now.Before(*t.AvailableFrom) {
		return false
	}
	if t.AvailableUntil != nil && now.After(*t.AvailableUntil) {
		return false
	}
	return true
}

// QuestionCount returns how many questions the test draws for subject.
// The subject must match exactly.
func (t *Test) QuestionCount(subject string) (int, bool) {
	for _, d := range t.Distribution {
		if d.Subject == subject {
			if d.Count <= 0 {
				return DefaultQuestionCount, true
			}
			return d.Count, true
		}
	}
	return 0, false
}

func (t *Test) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Deadline is the last instant at which an attempt started at start may be submitted.
func (t *Test) Deadline(start time.Time) time.Time {
	return start.Add(t.Duration())
}
