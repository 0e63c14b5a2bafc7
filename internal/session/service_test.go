package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/saulo-duarte/cbt-engine/internal/classroom"
	"github.com/saulo-duarte/cbt-engine/internal/exam"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"github.com/saulo-duarte/cbt-engine/internal/question"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/session"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type staticSource struct {
	tenantID uuid.UUID
	loc      tenant.StorageLocation
	repos    *schema.Repositories
}

func (s *staticSource) Locate(ctx context.Context, id uuid.UUID) (tenant.StorageLocation, error) {
	if id != s.tenantID {
		return "", fmt.Errorf("resolve tenant %s: %w", id, tenant.ErrNotFound)
	}
	return s.loc, nil
}

func (s *staticSource) ForTenant(ctx context.Context, id uuid.UUID) (*schema.Repositories, error) {
	loc, err := s.Locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ForLocation(ctx, loc)
}

func (s *staticSource) ForLocation(ctx context.Context, loc tenant.StorageLocation) (*schema.Repositories, error) {
	if loc != s.loc {
		return nil, fmt.Errorf("unknown location %s", loc)
	}
	return s.repos, nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *memoryRecorder) Record(ctx context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *memoryRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type env struct {
	ctx      context.Context
	tenantID uuid.UUID
	loc      tenant.StorageLocation
	repos    *schema.Repositories
	clock    *clock
	audit    *memoryRecorder
	jobs     *queue.MemoryQueue
	svc      session.SessionService

	student   uuid.UUID
	outsider  uuid.UUID
	teacher   uuid.UUID
	room      *classroom.Classroom
	test      *exam.Test
	math      []*question.Question
	essay     *question.Question
	startedAt time.Time
}

func strPtr(s string) *string { return &s }

func newEnv(t *testing.T, opts session.Options) *env {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	repos, err := schema.NewRegistry(nil).Repositories(ctx, db)
	require.NoError(t, err)

	e := &env{
		ctx:       ctx,
		tenantID:  uuid.New(),
		loc:       "school_green_hill_1",
		repos:     repos,
		clock:     &clock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		audit:     &memoryRecorder{},
		jobs:      queue.NewMemoryQueue(3),
		student:   uuid.New(),
		outsider:  uuid.New(),
		teacher:   uuid.New(),
		startedAt: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}

	for i := 0; i < 5; i++ {
		q := &question.Question{
			Text:          fmt.Sprintf("Math question %d", i),
			Type:          question.TypeSingleAnswer,
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: strPtr("B"),
			Subject:       "Math",
		}
		require.NoError(t, repos.Questions.Create(ctx, q))
		e.math = append(e.math, q)
	}
	e.essay = &question.Question{Text: "Describe the water cycle", Type: question.TypeEssay, Subject: "Writing"}
	require.NoError(t, repos.Questions.Create(ctx, e.essay))

	e.room = &classroom.Classroom{
		Name:      "9A",
		Subjects:  []string{"Math", "Writing", "Physics", "History"},
		TeacherID: &e.teacher,
		Members:   []uuid.UUID{e.student},
	}
	require.NoError(t, repos.Classrooms.Create(ctx, e.room))

	e.test = &exam.Test{
		Name:            "Midterm",
		DurationMinutes: 30,
		PassThreshold:   50,
		Distribution: []exam.Distribution{
			{Subject: "Math", Count: 2},
			{Subject: "Writing", Count: 1},
			{Subject: "History", Count: 3},
		},
	}
	require.NoError(t, repos.Tests.Create(ctx, e.test))

	if opts.Sampler == nil {
		opts.Sampler = question.NewSeededSampler(7)
	}
	opts.Now = e.clock.now
	e.svc = session.NewService(&staticSource{tenantID: e.tenantID, loc: e.loc, repos: repos}, e.audit, e.jobs, opts)
	return e
}

func (e *env) start(t *testing.T, subject string, practice bool) *session.StartResult {
	t.Helper()
	e.clock.set(e.startedAt)
	res, err := e.svc.StartAttempt(e.ctx, session.StartInput{
		TenantID:    e.tenantID,
		UserID:      e.student,
		TestID:      e.test.ID,
		ClassroomID: e.room.ID,
		Subject:     subject,
		IsPractice:  practice,
	})
	require.NoError(t, err)
	return res
}

func (e *env) submit(attemptID uuid.UUID, answers ...session.AnswerInput) (*session.SubmitResult, error) {
	return e.svc.SubmitAttempt(e.ctx, session.SubmitInput{
		TenantID:  e.tenantID,
		AttemptID: attemptID,
		UserID:    e.student,
		Answers:   answers,
	})
}

func TestStartAttempt(t *testing.T) {
	e := newEnv(t, session.Options{})

	res := e.start(t, "Math", false)

	require.Len(t, res.Questions, 2)
	assert.NotEqual(t, res.Questions[0].ID, res.Questions[1].ID)
	for _, q := range res.Questions {
		assert.Equal(t, "Math", q.Subject)
	}
	assert.Equal(t, 30, res.DurationMinutes)
	assert.True(t, res.Deadline.Equal(e.startedAt.Add(30*time.Minute)))

	stored, err := e.repos.Attempts.GetByID(e.ctx, res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, e.student, stored.UserID)
	assert.False(t, stored.IsSubmitted())
	assert.ElementsMatch(t, []uuid.UUID{res.Questions[0].ID, res.Questions[1].ID}, []uuid.UUID(stored.QuestionIDs))

	assert.Equal(t, []string{audit.ActionStartTest}, e.audit.actions())

	t.Run("ResponseNeverCarriesCorrectAnswers", func(t *testing.T) {
		raw, err := json.Marshal(res)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "correct")
	})

	t.Run("FewerQuestionsThanRequested", func(t *testing.T) {
		res := e.start(t, "Writing", false)
		require.Len(t, res.Questions, 1)
		assert.Equal(t, e.essay.ID, res.Questions[0].ID)
	})
}

func TestStartAttemptPreconditions(t *testing.T) {
	e := newEnv(t, session.Options{})

	missingTest := uuid.New()
	closed := &exam.Test{
		Name:           "Closed",
		Distribution:   []exam.Distribution{{Subject: "Math", Count: 1}},
		AvailableUntil: func() *time.Time { t := e.startedAt.Add(-time.Hour); return &t }(),
	}
	require.NoError(t, e.repos.Tests.Create(e.ctx, closed))

	cases := []struct {
		name      string
		testID    uuid.UUID
		classroom uuid.UUID
		user      uuid.UUID
		subject   string
		want      error
	}{
		{"MissingTest", missingTest, e.room.ID, e.student, "Math", session.ErrNotAvailable},
		{"OutsideWindow", closed.ID, e.room.ID, e.student, "Math", session.ErrNotAvailable},
		{"MissingClassroom", e.test.ID, uuid.New(), e.student, "Math", session.ErrNotFound},
		{"SubjectNotInClassroom", e.test.ID, e.room.ID, e.student, "Biology", session.ErrInvalidSubject},
		{"SubjectCaseDiffers", e.test.ID, e.room.ID, e.student, "math", session.ErrInvalidSubject},
		{"SubjectCheckedBeforeMembership", e.test.ID, e.room.ID, e.outsider, "Biology", session.ErrInvalidSubject},
		{"NotAMember", e.test.ID, e.room.ID, e.outsider, "Math", session.ErrForbidden},
		{"SubjectNotInTest", e.test.ID, e.room.ID, e.student, "Physics", session.ErrSubjectNotInTest},
		{"NoQuestions", e.test.ID, e.room.ID, e.student, "History", session.ErrNoQuestionsAvailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.StartAttempt(e.ctx, session.StartInput{
				TenantID:    e.tenantID,
				UserID:      tc.user,
				TestID:      tc.testID,
				ClassroomID: tc.classroom,
				Subject:     tc.subject,
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("UnknownTenant", func(t *testing.T) {
		_, err := e.svc.StartAttempt(e.ctx, session.StartInput{
			TenantID:    uuid.New(),
			UserID:      e.student,
			TestID:      e.test.ID,
			ClassroomID: e.room.ID,
			Subject:     "Math",
		})
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	assert.Empty(t, e.audit.actions(), "rejected starts are not audited")
}

func TestSubmitAttempt(t *testing.T) {
	t.Run("ScoresAndHidesAnswers", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", false)
		q1, q2 := started.Questions[0].ID, started.Questions[1].ID

		e.clock.set(e.startedAt.Add(10 * time.Minute))
		res, err := e.submit(started.AttemptID,
			session.AnswerInput{QuestionID: q1, SelectedAnswer: "B"},
			session.AnswerInput{QuestionID: q2, SelectedAnswer: "A"},
		)
		require.NoError(t, err)

		assert.Equal(t, 1, res.Score)
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 50.0, res.Percentage)
		assert.True(t, res.IsPassed)
		assert.Equal(t, session.ReleaseMessage, res.Message)
		assert.Nil(t, res.DetailedResults)

		raw, err := json.Marshal(res)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "correct")

		stored, err := e.repos.Attempts.GetByID(e.ctx, started.AttemptID)
		require.NoError(t, err)
		assert.True(t, stored.IsSubmitted())
		assert.Equal(t, 1, stored.Score)
		assert.True(t, stored.IsPassed)
		require.Len(t, stored.Answers, 2)
		assert.Equal(t, "A", stored.Answers[1].SelectedAnswer)

		assert.Equal(t, []string{audit.ActionStartTest, audit.ActionSubmitTest}, e.audit.actions())
		assert.Empty(t, e.jobs.Jobs())
	})

	t.Run("PracticeDisclosesCorrectAnswers", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", true)
		q1, q2 := started.Questions[0].ID, started.Questions[1].ID

		res, err := e.submit(started.AttemptID,
			session.AnswerInput{QuestionID: q1, SelectedAnswer: "B"},
			session.AnswerInput{QuestionID: q2, SelectedAnswer: "A"},
		)
		require.NoError(t, err)

		assert.Empty(t, res.Message)
		require.Len(t, res.DetailedResults, 2)
		for _, d := range res.DetailedResults {
			require.NotNil(t, d.CorrectAnswer)
			assert.Equal(t, "B", *d.CorrectAnswer)
		}
		assert.True(t, res.DetailedResults[0].IsCorrect)
		assert.False(t, res.DetailedResults[1].IsCorrect)
	})

	t.Run("Deadline", func(t *testing.T) {
		e := newEnv(t, session.Options{})

		onTime := e.start(t, "Math", false)
		e.clock.set(e.startedAt.Add(29*time.Minute + 59*time.Second))
		_, err := e.submit(onTime.AttemptID)
		assert.NoError(t, err)

		late := e.start(t, "Math", false)
		e.clock.set(e.startedAt.Add(30*time.Minute + time.Second))
		_, err = e.submit(late.AttemptID)
		assert.ErrorIs(t, err, session.ErrDeadlineExceeded)

		stored, err := e.repos.Attempts.GetByID(e.ctx, late.AttemptID)
		require.NoError(t, err)
		assert.False(t, stored.IsSubmitted())
	})

	t.Run("NoAnswersScoresZero", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", false)

		res, err := e.submit(started.AttemptID)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Total)
		assert.Equal(t, 0.0, res.Percentage)
		assert.False(t, res.IsPassed)
	})

	t.Run("AnswersOutsideTheDrawNeverCount", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", false)

		drawn := map[uuid.UUID]bool{}
		for _, q := range started.Questions {
			drawn[q.ID] = true
		}
		var other uuid.UUID
		for _, q := range e.math {
			if !drawn[q.ID] {
				other = q.ID
				break
			}
		}

		res, err := e.submit(started.AttemptID, session.AnswerInput{QuestionID: other, SelectedAnswer: "B"})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Score)
		assert.Equal(t, 1, res.Total)
	})

	t.Run("OwnerOnly", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", false)

		_, err := e.svc.SubmitAttempt(e.ctx, session.SubmitInput{
			TenantID:  e.tenantID,
			AttemptID: started.AttemptID,
			UserID:    e.outsider,
		})
		assert.ErrorIs(t, err, session.ErrForbidden)
	})

	t.Run("MissingAttempt", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		_, err := e.submit(uuid.New())
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("SecondSubmitRejected", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", false)
		q1 := started.Questions[0].ID

		_, err := e.submit(started.AttemptID, session.AnswerInput{QuestionID: q1, SelectedAnswer: "B"})
		require.NoError(t, err)

		_, err = e.submit(started.AttemptID, session.AnswerInput{QuestionID: q1, SelectedAnswer: "C"})
		assert.ErrorIs(t, err, session.ErrAlreadySubmitted)

		stored, err := e.repos.Attempts.GetByID(e.ctx, started.AttemptID)
		require.NoError(t, err)
		assert.Equal(t, "B", stored.Answers[0].SelectedAnswer)
	})

	t.Run("ConcurrentSubmitsHaveOneWinner", func(t *testing.T) {
		e := newEnv(t, session.Options{})
		started := e.start(t, "Math", false)

		const n = 4
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.submit(started.AttemptID,
					session.AnswerInput{QuestionID: started.Questions[0].ID, SelectedAnswer: "B"})
			}(i)
		}
		wg.Wait()

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, session.ErrAlreadySubmitted)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("EnqueueOnSubmit", func(t *testing.T) {
		e := newEnv(t, session.Options{EnqueueOnSubmit: true})
		started := e.start(t, "Math", false)

		_, err := e.submit(started.AttemptID)
		require.NoError(t, err)

		jobs := e.jobs.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, queue.ScoreSubmission, jobs[0].Name)

		var payload queue.ScorePayload
		require.NoError(t, jobs[0].Decode(&payload))
		assert.Equal(t, started.AttemptID, payload.AttemptID)
		assert.Equal(t, e.loc.String(), payload.StorageLocation)
		assert.Equal(t, e.student, payload.UserID)
	})
}

func TestGradeEssayAnswer(t *testing.T) {
	e := newEnv(t, session.Options{})
	started := e.start(t, "Writing", false)

	grade := func(questionID uuid.UUID, value float64) error {
		return e.svc.GradeEssayAnswer(e.ctx, session.GradeInput{
			TenantID:   e.tenantID,
			AttemptID:  started.AttemptID,
			QuestionID: questionID,
			GraderID:   e.teacher,
			Grade:      value,
		})
	}

	t.Run("NotSubmittedYet", func(t *testing.T) {
		assert.ErrorIs(t, grade(e.essay.ID, 8), session.ErrNotSubmitted)
	})

	res, err := e.submit(started.AttemptID, session.AnswerInput{QuestionID: e.essay.ID, SelectedAnswer: "Evaporation..."})
	require.NoError(t, err)
	require.Equal(t, 0, res.Score)

	pending, err := e.svc.PendingGrading(e.ctx, e.tenantID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, started.AttemptID, pending[0].AttemptID)
	assert.Equal(t, []uuid.UUID{e.essay.ID}, pending[0].Ungraded)

	t.Run("UnknownAnswer", func(t *testing.T) {
		assert.ErrorIs(t, grade(uuid.New(), 8), session.ErrNotFound)
	})

	t.Run("GradeLeavesScoreUnchanged", func(t *testing.T) {
		require.NoError(t, grade(e.essay.ID, 8))

		stored, err := e.repos.Attempts.GetByID(e.ctx, started.AttemptID)
		require.NoError(t, err)
		require.Len(t, stored.Answers, 1)
		require.NotNil(t, stored.Answers[0].Grade)
		assert.Equal(t, 8.0, *stored.Answers[0].Grade)
		require.NotNil(t, stored.Answers[0].GradedBy)
		assert.Equal(t, e.teacher, *stored.Answers[0].GradedBy)
		assert.Equal(t, 0, stored.Score)
		assert.False(t, stored.IsPassed)

		pending, err := e.svc.PendingGrading(e.ctx, e.tenantID)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("Regrade", func(t *testing.T) {
		require.NoError(t, grade(e.essay.ID, 9.5))
		stored, err := e.repos.Attempts.GetByID(e.ctx, started.AttemptID)
		require.NoError(t, err)
		assert.Equal(t, 9.5, *stored.Answers[0].Grade)
	})

	assert.Contains(t, e.audit.actions(), audit.ActionGradeAnswer)
}

func TestRequestRescore(t *testing.T) {
	e := newEnv(t, session.Options{})
	started := e.start(t, "Math", false)

	require.NoError(t, e.svc.RequestRescore(e.ctx, e.tenantID, started.AttemptID, e.teacher))

	jobs := e.jobs.Jobs()
	require.Len(t, jobs, 1)
	var payload queue.ScorePayload
	require.NoError(t, jobs[0].Decode(&payload))
	assert.Equal(t, queue.ScorePayload{
		AttemptID:       started.AttemptID,
		StorageLocation: e.loc.String(),
		UserID:          e.student,
	}, payload)

	err := e.svc.RequestRescore(e.ctx, e.tenantID, uuid.New(), e.teacher)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Len(t, e.jobs.Jobs(), 1)
}
