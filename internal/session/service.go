// Package session runs exam attempts: starting them with a random draw of
// questions, accepting submissions within the deadline, scoring them and
// recording essay grades.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/attempt"
	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/saulo-duarte/cbt-engine/internal/classroom"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/exam"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"github.com/saulo-duarte/cbt-engine/internal/question"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/scoring"
	"github.com/saulo-duarte/cbt-engine/internal/tenancy"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
)

type SessionService interface {
	StartAttempt(ctx context.Context, in StartInput) (*StartResult, error)
	SubmitAttempt(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	GradeEssayAnswer(ctx context.Context, in GradeInput) error
	RequestRescore(ctx context.Context, tenantID, attemptID, requestedBy uuid.UUID) error
	PendingGrading(ctx context.Context, tenantID uuid.UUID) ([]PendingAttempt, error)
}

type Sampler interface {
	Sample(ctx context.Context, bank question.Bank, subject string, count int) ([]*question.Question, error)
}

type Options struct {
	// EnqueueOnSubmit schedules a background rescore after every submission.
	EnqueueOnSubmit bool
	Sampler         Sampler
	Now             func() time.Time
}

// Grade writes race with the worker's rescoring; a conflicting write is re-read and retried.
const maxGradeWrites = 3

type sessionService struct {
	tenants         tenancy.Source
	audit           audit.Recorder
	jobs            queue.Enqueuer
	sampler         Sampler
	enqueueOnSubmit bool
	now             func() time.Time
}

func NewService(tenants tenancy.Source, recorder audit.Recorder, jobs queue.Enqueuer, opts Options) SessionService {
	if opts.Sampler == nil {
		opts.Sampler = question.NewSampler()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if recorder == nil {
		recorder = audit.Discard
	}
	return &sessionService{
		tenants:         tenants,
		audit:           recorder,
		jobs:            jobs,
		sampler:         opts.Sampler,
		enqueueOnSubmit: opts.EnqueueOnSubmit,
		now:             opts.Now,
	}
}

func (s *sessionService) StartAttempt(ctx context.Context, in StartInput) (*StartResult, error) {
	log := config.WithContext(ctx).WithFields(map[string]interface{}{
		"test_id":      in.TestID,
		"classroom_id": in.ClassroomID,
		"subject":      in.Subject,
	})

	_, repos, err := s.repositories(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}

	test, err := repos.Tests.GetByID(ctx, in.TestID)
	if err != nil {
		if errors.Is(err, exam.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
		log.WithError(err).Error("Failed to load test")
		return nil, err
	}

	now := s.now()
	if !test.AvailableAt(now) {
		log.Warn("Test outside its availability window")
		return nil, ErrNotAvailable
	}

	room, err := repos.Classrooms.GetByID(ctx, in.ClassroomID)
	if err != nil {
		if errors.Is(err, classroom.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		log.WithError(err).Error("Failed to load classroom")
		return nil, err
	}
	if !room.HasSubject(in.Subject) {
		return nil, ErrInvalidSubject
	}
	if !room.HasMember(in.UserID) {
		log.Warn("Student is not a member of the classroom")
		return nil, ErrForbidden
	}

	count, ok := test.QuestionCount(in.Subject)
	if !ok {
		return nil, ErrSubjectNotInTest
	}

	questions, err := s.sampler.Sample(ctx, repos.Questions, in.Subject, count)
	if err != nil {
		log.WithError(err).Error("Failed to sample questions")
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestionsAvailable
	}

	ids := make([]uuid.UUID, 0, len(questions))
	sanitized := make([]question.Sanitized, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
		sanitized = append(sanitized, q.Sanitize())
	}

	a := &attempt.Attempt{
		UserID:      in.UserID,
		TestID:      test.ID,
		ClassroomID: room.ID,
		Subject:     in.Subject,
		QuestionIDs: ids,
		StartTime:   now,
		IsPractice:  in.IsPractice,
	}
	if err := repos.Attempts.Create(ctx, a); err != nil {
		log.WithError(err).Error("Failed to create attempt")
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		TenantID:     &in.TenantID,
		Action:       audit.ActionStartTest,
		ResourceType: audit.ResourceTest,
		ResourceID:   test.ID,
		ActorID:      in.UserID,
		Details:      map[string]interface{}{"attempt_id": a.ID.String(), "subject": in.Subject},
		IP:           audit.IPFrom(ctx),
	})

	log.WithFields(map[string]interface{}{
		"attempt_id": a.ID,
		"questions":  len(ids),
	}).Info("Attempt started")

	return &StartResult{
		AttemptID:       a.ID,
		TestID:          test.ID,
		ClassroomID:     room.ID,
		Subject:         in.Subject,
		DurationMinutes: test.DurationMinutes,
		StartTime:       a.StartTime,
		Deadline:        test.Deadline(a.StartTime),
		Questions:       sanitized,
	}, nil
}

func (s *sessionService) SubmitAttempt(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	log := config.WithContext(ctx).WithField("attempt_id", in.AttemptID)

	loc, repos, err := s.repositories(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}

	a, err := s.attempt(ctx, repos, in.AttemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != in.UserID {
		log.Warn("Submission for another user's attempt")
		return nil, ErrForbidden
	}

	test, err := repos.Tests.GetByID(ctx, a.TestID)
	if err != nil {
		if errors.Is(err, exam.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		log.WithError(err).Error("Failed to load test")
		return nil, err
	}

	now := s.now()
	if now.After(test.Deadline(a.StartTime)) {
		log.Warn("Submission after deadline")
		return nil, ErrDeadlineExceeded
	}
	if a.IsSubmitted() {
		return nil, ErrAlreadySubmitted
	}

	answers := make([]scoring.Answer, 0, len(in.Answers))
	stored := make([]attempt.Answer, 0, len(in.Answers))
	for _, ans := range in.Answers {
		answers = append(answers, scoring.Answer{QuestionID: ans.QuestionID, SelectedAnswer: ans.SelectedAnswer})
		stored = append(stored, attempt.Answer{QuestionID: ans.QuestionID, SelectedAnswer: ans.SelectedAnswer})
	}

	res, err := scoring.Evaluate(ctx, repos.Questions, a.QuestionIDs, answers, test.PassThreshold)
	if err != nil {
		log.WithError(err).Error("Failed to score attempt")
		return nil, err
	}

	a.Answers = stored
	a.Score = res.Score
	a.IsPassed = res.IsPassed
	a.EndTime = &now
	if err := repos.Attempts.Finalize(ctx, a); err != nil {
		if errors.Is(err, attempt.ErrConflict) {
			return nil, ErrAlreadySubmitted
		}
		log.WithError(err).Error("Failed to save submission")
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		TenantID:     &in.TenantID,
		Action:       audit.ActionSubmitTest,
		ResourceType: audit.ResourceAttempt,
		ResourceID:   a.ID,
		ActorID:      in.UserID,
		Details: map[string]interface{}{
			"score":      res.Score,
			"total":      res.Total,
			"percentage": res.Percentage,
			"is_passed":  res.IsPassed,
		},
		IP: audit.IPFrom(ctx),
	})

	if s.enqueueOnSubmit {
		s.enqueueScore(ctx, loc, a)
	}

	log.WithFields(map[string]interface{}{
		"score": res.Score,
		"total": res.Total,
	}).Info("Attempt submitted")

	out := &SubmitResult{
		Score:      res.Score,
		Total:      res.Total,
		Percentage: res.Percentage,
		IsPassed:   res.IsPassed,
	}
	if a.IsPractice {
		out.DetailedResults = res.Details
	} else {
		out.Message = ReleaseMessage
	}
	return out, nil
}

func (s *sessionService) GradeEssayAnswer(ctx context.Context, in GradeInput) error {
	log := config.WithContext(ctx).WithFields(map[string]interface{}{
		"attempt_id":  in.AttemptID,
		"question_id": in.QuestionID,
	})

	_, repos, err := s.repositories(ctx, in.TenantID)
	if err != nil {
		return err
	}

	for try := 1; ; try++ {
		a, err := s.attempt(ctx, repos, in.AttemptID)
		if err != nil {
			return err
		}
		if !a.IsSubmitted() {
			return ErrNotSubmitted
		}
		idx := a.AnswerIndex(in.QuestionID)
		if idx < 0 {
			return fmt.Errorf("%w: answer for question %s", ErrNotFound, in.QuestionID)
		}

		grade := in.Grade
		grader := in.GraderID
		a.Answers[idx].Grade = &grade
		a.Answers[idx].GradedBy = &grader

		err = repos.Attempts.SaveAnswers(ctx, a)
		if err == nil {
			break
		}
		if !errors.Is(err, attempt.ErrConflict) || try >= maxGradeWrites {
			log.WithError(err).Error("Failed to save grade")
			return err
		}
		log.WithField("try", try).Debug("Attempt changed while grading, retrying")
	}

	s.audit.Record(ctx, audit.Entry{
		TenantID:     &in.TenantID,
		Action:       audit.ActionGradeAnswer,
		ResourceType: audit.ResourceAttempt,
		ResourceID:   in.AttemptID,
		ActorID:      in.GraderID,
		Details: map[string]interface{}{
			"question_id": in.QuestionID.String(),
			"grade":       in.Grade,
		},
		IP: audit.IPFrom(ctx),
	})

	log.Info("Answer graded")
	return nil
}

func (s *sessionService) RequestRescore(ctx context.Context, tenantID, attemptID, requestedBy uuid.UUID) error {
	log := config.WithContext(ctx).WithField("attempt_id", attemptID)

	loc, repos, err := s.repositories(ctx, tenantID)
	if err != nil {
		return err
	}
	a, err := s.attempt(ctx, repos, attemptID)
	if err != nil {
		return err
	}

	if s.jobs == nil {
		return errors.New("enqueue rescore: no job queue configured")
	}
	if err := s.jobs.Enqueue(ctx, queue.ScoreSubmission, queue.ScorePayload{
		AttemptID:       a.ID,
		StorageLocation: loc.String(),
		UserID:          a.UserID,
	}); err != nil {
		log.WithError(err).Error("Failed to enqueue rescore")
		return fmt.Errorf("enqueue rescore: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{
		TenantID:     &tenantID,
		Action:       audit.ActionRescoreRequested,
		ResourceType: audit.ResourceAttempt,
		ResourceID:   a.ID,
		ActorID:      requestedBy,
		IP:           audit.IPFrom(ctx),
	})

	log.Info("Rescore requested")
	return nil
}

func (s *sessionService) PendingGrading(ctx context.Context, tenantID uuid.UUID) ([]PendingAttempt, error) {
	log := config.WithContext(ctx)

	_, repos, err := s.repositories(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	attempts, err := repos.Attempts.ListSubmitted(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list submitted attempts")
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, a := range attempts {
		for _, ans := range a.Answers {
			if ans.Grade == nil && !seen[ans.QuestionID] {
				seen[ans.QuestionID] = true
				ids = append(ids, ans.QuestionID)
			}
		}
	}

	questions, err := repos.Questions.FindByIDs(ctx, ids)
	if err != nil {
		log.WithError(err).Error("Failed to load answered questions")
		return nil, err
	}
	essays := make(map[uuid.UUID]bool)
	for _, q := range questions {
		if q.Type == question.TypeEssay {
			essays[q.ID] = true
		}
	}

	pending := make([]PendingAttempt, 0)
	for _, a := range attempts {
		var ungraded []uuid.UUID
		for _, ans := range a.Answers {
			if ans.Grade == nil && essays[ans.QuestionID] {
				ungraded = append(ungraded, ans.QuestionID)
			}
		}
		if len(ungraded) == 0 {
			continue
		}
		pending = append(pending, PendingAttempt{
			AttemptID:  a.ID,
			UserID:     a.UserID,
			TestID:     a.TestID,
			Subject:    a.Subject,
			EndTime:    *a.EndTime,
			Ungraded:   ungraded,
			IsPractice: a.IsPractice,
		})
	}
	return pending, nil
}

func (s *sessionService) repositories(ctx context.Context, tenantID uuid.UUID) (tenant.StorageLocation, *schema.Repositories, error) {
	loc, err := s.tenants.Locate(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return "", nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return "", nil, err
	}
	repos, err := s.tenants.ForLocation(ctx, loc)
	if err != nil {
		return "", nil, err
	}
	return loc, repos, nil
}

func (s *sessionService) attempt(ctx context.Context, repos *schema.Repositories, id uuid.UUID) (*attempt.Attempt, error) {
	a, err := repos.Attempts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, attempt.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		config.WithContext(ctx).WithError(err).WithField("attempt_id", id).Error("Failed to load attempt")
		return nil, err
	}
	return a, nil
}

// enqueueScore is best effort: the submission is already stored.
func (s *sessionService) enqueueScore(ctx context.Context, loc tenant.StorageLocation, a *attempt.Attempt) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, queue.ScoreSubmission, queue.ScorePayload{
		AttemptID:       a.ID,
		StorageLocation: loc.String(),
		UserID:          a.UserID,
	}); err != nil {
		config.WithContext(ctx).WithError(err).WithField("attempt_id", a.ID).Warn("Failed to enqueue background scoring")
	}
}
