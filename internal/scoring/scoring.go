// Package scoring holds the single scoring algorithm used by both the
// interactive submit path and the deferred scoring worker.
package scoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Answer struct {
	QuestionID     uuid.UUID
	SelectedAnswer string
}

type Detail struct {
	QuestionID    uuid.UUID `json:"question_id"`
	UserAnswer    string    `json:"user_answer"`
	CorrectAnswer *string   `json:"correct_answer"`
	IsCorrect     bool      `json:"is_correct"`
}

type Result struct {
	Score      int      `json:"score"`
	Total      int      `json:"total"`
	Percentage float64  `json:"percentage"`
	IsPassed   bool     `json:"is_passed"`
	Details    []Detail `json:"-"`
}

// Score is a pure function of the answers, the answer key and the pass threshold.
// An answer is correct only when the key holds a value for its question and the
// submitted value equals it byte for byte. Every submitted answer counts toward
// the total, including essays and answers to questions missing from the key.
func Score(answers []Answer, key map[uuid.UUID]string, passThreshold float64) Result {
	res := Result{
		Total:   len(answers),
		Details: make([]Detail, 0, len(answers)),
	}

	for _, a := range answers {
		d := Detail{
			QuestionID: a.QuestionID,
			UserAnswer: a.SelectedAnswer,
		}
		if correct, ok := key[a.QuestionID]; ok && correct != "" {
			c := correct
			d.CorrectAnswer = &c
			d.IsCorrect = a.SelectedAnswer == correct
		}
		if d.IsCorrect {
			res.Score++
		}
		res.Details = append(res.Details, d)
	}

	if res.Total > 0 {
		res.Percentage = float64(res.Score) / float64(res.Total) * 100
	}
	res.IsPassed = res.Percentage >= passThreshold
	return res
}

// AnswerKey looks up correct values for a set of questions.
type AnswerKey interface {
	CorrectAnswers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// Evaluate scores answers against the key for questionIDs, the questions sampled
// into the attempt.
func Evaluate(ctx context.Context, key AnswerKey, questionIDs []uuid.UUID, answers []Answer, passThreshold float64) (Result, error) {
	values, err := key.CorrectAnswers(ctx, questionIDs)
	if err != nil {
		return Result{}, fmt.Errorf("load answer key: %w", err)
	}
	return Score(answers, values, passThreshold), nil
}
