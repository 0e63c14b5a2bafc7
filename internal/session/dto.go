package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/question"
	"github.com/saulo-duarte/cbt-engine/internal/scoring"
)

type StartInput struct {
	TenantID    uuid.UUID
	UserID      uuid.UUID
	TestID      uuid.UUID
	ClassroomID uuid.UUID
	Subject     string
	IsPractice  bool
}

type StartResult struct {
	AttemptID       uuid.UUID            `json:"attempt_id"`
	TestID          uuid.UUID            `json:"test_id"`
	ClassroomID     uuid.UUID            `json:"classroom_id"`
	Subject         string               `json:"subject"`
	DurationMinutes int                  `json:"duration_minutes"`
	StartTime       time.Time            `json:"start_time"`
	Deadline        time.Time            `json:"deadline"`
	Questions       []question.Sanitized `json:"questions"`
}

type AnswerInput struct {
	QuestionID     uuid.UUID `json:"question_id" validate:"required"`
	SelectedAnswer string    `json:"selected_answer"`
}

type SubmitInput struct {
	TenantID  uuid.UUID
	AttemptID uuid.UUID
	UserID    uuid.UUID
	Answers   []AnswerInput
}

const ReleaseMessage = "Test submitted successfully. Results will be available after the test is graded."

// SubmitResult always carries the summary. DetailedResults, which include the
// correct values, are only filled for practice attempts.
type SubmitResult struct {
	Score           int              `json:"score"`
	Total           int              `json:"total"`
	Percentage      float64          `json:"percentage"`
	IsPassed        bool             `json:"is_passed"`
	Message         string           `json:"message,omitempty"`
	DetailedResults []scoring.Detail `json:"detailed_results,omitempty"`
}

type GradeInput struct {
	TenantID   uuid.UUID
	AttemptID  uuid.UUID
	QuestionID uuid.UUID
	GraderID   uuid.UUID
	Grade      float64
}

// PendingAttempt is a submitted attempt with essay answers nobody has graded yet.
type PendingAttempt struct {
	AttemptID  uuid.UUID   `json:"attempt_id"`
	UserID     uuid.UUID   `json:"user_id"`
	TestID     uuid.UUID   `json:"test_id"`
	Subject    string      `json:"subject"`
	EndTime    time.Time   `json:"end_time"`
	Ungraded   []uuid.UUID `json:"ungraded_question_ids"`
	IsPractice bool        `json:"is_practice"`
}

type startRequest struct {
	ClassroomID uuid.UUID `json:"classroom_id" validate:"required"`
	Subject     string    `json:"subject" validate:"required"`
	IsPractice  bool      `json:"is_practice"`
}

type submitRequest struct {
	Answers []AnswerInput `json:"answers" validate:"required,unique=QuestionID,dive"`
}

type gradeRequest struct {
	QuestionID uuid.UUID `json:"question_id" validate:"required"`
	Grade      *float64  `json:"grade" validate:"required,gte=0"`
}
