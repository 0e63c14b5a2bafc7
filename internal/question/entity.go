package question

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Type string

const (
	TypeSingleAnswer Type = "single-answer"
	TypeTrueFalse    Type = "true-false"
	TypeFillInBlank  Type = "fill-in-blank"
	TypeEssay        Type = "essay"
)

var AllTypes = []Type{TypeSingleAnswer, TypeTrueFalse, TypeFillInBlank, TypeEssay}

func (t Type) IsValid() bool {
	for _, v := range AllTypes {
		if t == v {
			return true
		}
	}
	return false
}

const DefaultSubject = "General"

var (
	ErrInvalidType          = errors.New("invalid question type")
	ErrOptionsRequired      = errors.New("options are required for single-answer and true-false questions")
	ErrCorrectAnswerMissing = errors.New("correct answer is required for all question types except essay")
)

type Question struct {
	ID            uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Text          string                      `gorm:"type:text;not null" json:"text"`
	Type          Type                        `gorm:"type:text;not null;default:'single-answer'" json:"type"`
	Options       datatypes.JSONSlice[string] `json:"options,omitempty"`
	CorrectAnswer *string                     `gorm:"type:text" json:"correct_answer,omitempty"`
	Subject       string                      `gorm:"type:text;not null;index" json:"subject"`
	CreatedAt     time.Time                   `gorm:"autoCreateTime" json:"created_at"`
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Subject == "" {
		q.Subject = DefaultSubject
	}
	return q.Validate()
}

func (q *Question) Validate() error {
	if !q.Type.IsValid() {
		return ErrInvalidType
	}
	if (q.Type == TypeSingleAnswer || q.Type == TypeTrueFalse) && len(q.Options) == 0 {
		return ErrOptionsRequired
	}
	if q.Type != TypeEssay && (q.CorrectAnswer == nil || *q.CorrectAnswer == "") {
		return ErrCorrectAnswerMissing
	}
	return nil
}

// Sanitized is the view of a question that is safe to show before grading.
// It deliberately has no field for the correct answer.
type Sanitized struct {
	ID      uuid.UUID `json:"id"`
	Text    string    `json:"text"`
	Type    Type      `json:"type"`
	Options []string  `json:"options,omitempty"`
	Subject string    `json:"subject"`
}

func (q *Question) Sanitize() Sanitized {
	var options []string
	if len(q.Options) > 0 {
		options = append(options, q.Options...)
	}
	return Sanitized{
		ID:      q.ID,
		Text:    q.Text,
		Type:    q.Type,
		Options: options,
		Subject: q.Subject,
	}
}
