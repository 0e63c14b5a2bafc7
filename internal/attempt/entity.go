package attempt

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusSubmitted Status = "SUBMITTED"
)

// Answer is one submitted value. Grade and GradedBy are only ever set on essay
// answers by a grader.
type Answer struct {
	QuestionID     uuid.UUID  `json:"question_id"`
	SelectedAnswer string     `json:"selected_answer"`
	Grade          *float64   `json:"grade"`
	GradedBy       *uuid.UUID `json:"graded_by"`
}

// Attempt is one user's sitting of one test. QuestionIDs are fixed when the
// attempt starts; EndTime is nil until the attempt is submitted.
type Attempt struct {
	ID          uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID                      `gorm:"type:uuid;not null;index" json:"user_id"`
	TestID      uuid.UUID                      `gorm:"type:uuid;not null;index" json:"test_id"`
	ClassroomID uuid.UUID                      `gorm:"type:uuid;index" json:"classroom_id"`
	Subject     string                         `gorm:"type:text" json:"subject"`
	QuestionIDs datatypes.JSONSlice[uuid.UUID] `json:"question_ids"`
	Answers     datatypes.JSONSlice[Answer]    `json:"answers"`
	Score       int                            `gorm:"not null;default:0" json:"score"`
	StartTime   time.Time                      `gorm:"not null" json:"start_time"`
	EndTime     *time.Time                     `gorm:"index" json:"end_time,omitempty"`
	IsPassed    bool                           `gorm:"not null;default:false" json:"is_passed"`
	IsPractice  bool                           `gorm:"not null;default:false" json:"is_practice"`
	Version     int                            `gorm:"not null;default:0" json:"-"`
}

func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *Attempt) Status() Status {
	if a.EndTime != nil {
		return StatusSubmitted
	}
	return StatusStarted
}

func (a *Attempt) IsSubmitted() bool {
	return a.EndTime != nil
}

// AnswerIndex returns the position of the stored answer for questionID, or -1.
func (a *Attempt) AnswerIndex(questionID uuid.UUID) int {
	for i, ans := range a.Answers {
		if ans.QuestionID == questionID {
			return i
		}
	}
	return -1
}
