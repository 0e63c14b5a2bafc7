// Package worker consumes background scoring jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saulo-duarte/cbt-engine/internal/attempt"
	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/exam"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/scoring"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
)

// Locations opens a tenant's repositories from its storage location, which is
// all a job carries.
type Locations interface {
	ForLocation(ctx context.Context, loc tenant.StorageLocation) (*schema.Repositories, error)
}

// Outcome is what a scoring job did to its attempt.
type Outcome string

const (
	OutcomeRescored  Outcome = "rescored"
	OutcomeFinalized Outcome = "finalized"
	OutcomeDropped   Outcome = "dropped"
)

type Worker struct {
	tenants Locations
	audit   audit.Recorder
	now     func() time.Time
}

func New(tenants Locations, recorder audit.Recorder, now func() time.Time) *Worker {
	if recorder == nil {
		recorder = audit.Discard
	}
	if now == nil {
		now = time.Now
	}
	return &Worker{tenants: tenants, audit: recorder, now: now}
}

// Handle runs one job. A nil error completes the job, including jobs that were
// dropped because their attempt or test no longer exists.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Name {
	case queue.ScoreSubmission:
		var p queue.ScorePayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		_, err := w.ScoreSubmission(ctx, p)
		return err
	default:
		return fmt.Errorf("%w: %s", queue.ErrUnknownJob, job.Name)
	}
}

// ScoreSubmission scores the attempt's stored answers with the same algorithm
// the submit path uses. A submitted attempt keeps its end time; an unsubmitted
// attempt past its deadline is closed with whatever answers it has; a live
// attempt is left alone.
func (w *Worker) ScoreSubmission(ctx context.Context, p queue.ScorePayload) (Outcome, error) {
	log := config.WithContext(ctx).WithFields(map[string]interface{}{
		"attempt_id":       p.AttemptID,
		"storage_location": p.StorageLocation,
	})

	repos, err := w.tenants.ForLocation(ctx, tenant.StorageLocation(p.StorageLocation))
	if err != nil {
		log.WithError(err).Error("Tenant storage unavailable for scoring")
		return "", err
	}

	a, err := repos.Attempts.GetByID(ctx, p.AttemptID)
	if err != nil {
		if errors.Is(err, attempt.ErrNotFound) {
			log.Warn("Attempt no longer exists, dropping scoring job")
			return OutcomeDropped, nil
		}
		return "", err
	}

	test, err := repos.Tests.GetByID(ctx, a.TestID)
	if err != nil {
		if errors.Is(err, exam.ErrNotFound) {
			log.WithField("test_id", a.TestID).Warn("Test no longer exists, dropping scoring job")
			return OutcomeDropped, nil
		}
		return "", err
	}

	now := w.now()
	if !a.IsSubmitted() && !now.After(test.Deadline(a.StartTime)) {
		log.Info("Attempt still in progress, dropping scoring job")
		return OutcomeDropped, nil
	}

	answers := make([]scoring.Answer, 0, len(a.Answers))
	for _, ans := range a.Answers {
		answers = append(answers, scoring.Answer{QuestionID: ans.QuestionID, SelectedAnswer: ans.SelectedAnswer})
	}
	res, err := scoring.Evaluate(ctx, repos.Questions, a.QuestionIDs, answers, test.PassThreshold)
	if err != nil {
		log.WithError(err).Error("Failed to score attempt")
		return "", err
	}

	a.Score = res.Score
	a.IsPassed = res.IsPassed

	outcome := OutcomeRescored
	if a.IsSubmitted() {
		err = repos.Attempts.SaveScore(ctx, a)
	} else {
		outcome = OutcomeFinalized
		a.EndTime = &now
		err = repos.Attempts.Finalize(ctx, a)
	}
	if err != nil {
		// A conflict means the attempt moved on underneath us; the retry re-reads it.
		log.WithError(err).Warn("Failed to store background score")
		return "", err
	}

	w.audit.Record(ctx, audit.Entry{
		Location:     p.StorageLocation,
		Action:       audit.ActionBackgroundScoreTest,
		ResourceType: audit.ResourceAttempt,
		ResourceID:   a.ID,
		ActorID:      p.UserID,
		Details: map[string]interface{}{
			"score":      res.Score,
			"total":      res.Total,
			"percentage": res.Percentage,
			"is_passed":  res.IsPassed,
			"outcome":    string(outcome),
		},
		IP: audit.BackgroundIP,
	})

	log.WithFields(map[string]interface{}{
		"score":   res.Score,
		"outcome": outcome,
	}).Info("Background scoring done")
	return outcome, nil
}
