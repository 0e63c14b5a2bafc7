// Package seed loads a YAML description of one school's users, classroom,
// question bank and tests into that school's storage.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/saulo-duarte/cbt-engine/internal/classroom"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/exam"
	"github.com/saulo-duarte/cbt-engine/internal/question"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/user"
)

type Fixture struct {
	Tenant    string            `yaml:"tenant"`
	Users     []UserFixture     `yaml:"users"`
	Classroom ClassroomFixture  `yaml:"classroom"`
	Questions []QuestionFixture `yaml:"questions"`
	Tests     []TestFixture     `yaml:"tests"`
}

type UserFixture struct {
	Username string    `yaml:"username"`
	Role     user.Role `yaml:"role"`
}

type ClassroomFixture struct {
	Name     string   `yaml:"name"`
	Subjects []string `yaml:"subjects"`
	Teacher  string   `yaml:"teacher"`
	Members  []string `yaml:"members"`
}

type QuestionFixture struct {
	Text    string        `yaml:"text"`
	Type    question.Type `yaml:"type"`
	Options []string      `yaml:"options"`
	Answer  string        `yaml:"answer"`
	Subject string        `yaml:"subject"`
}

type TestFixture struct {
	Name            string              `yaml:"name"`
	DurationMinutes int                 `yaml:"duration_minutes"`
	PassThreshold   float64             `yaml:"pass_threshold"`
	Distribution    []exam.Distribution `yaml:"distribution"`
}

// Result maps fixture usernames and test names to the ids they were stored under.
type Result struct {
	Users       map[string]*user.User
	ClassroomID uuid.UUID
	Tests       map[string]uuid.UUID
	Questions   int
}

func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if f.Tenant == "" {
		return nil, fmt.Errorf("parse fixture: tenant name is required")
	}
	for _, u := range f.Users {
		if u.Role != "" && !u.Role.IsValid() {
			return nil, fmt.Errorf("parse fixture: user %q has unknown role %q", u.Username, u.Role)
		}
	}
	return &f, nil
}

// Apply writes the fixture through repos. Classroom members and teacher are
// referenced by username and must appear under users.
func Apply(ctx context.Context, repos *schema.Repositories, f *Fixture) (*Result, error) {
	log := config.WithContext(ctx).WithField("tenant_name", f.Tenant)

	res := &Result{
		Users: make(map[string]*user.User, len(f.Users)),
		Tests: make(map[string]uuid.UUID, len(f.Tests)),
	}

	for _, uf := range f.Users {
		u := &user.User{Username: uf.Username, Role: uf.Role}
		if err := repos.Users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user %q: %w", uf.Username, err)
		}
		res.Users[uf.Username] = u
	}

	room := &classroom.Classroom{Name: f.Classroom.Name, Subjects: f.Classroom.Subjects}
	if f.Classroom.Teacher != "" {
		t, ok := res.Users[f.Classroom.Teacher]
		if !ok {
			return nil, fmt.Errorf("classroom teacher %q is not a fixture user", f.Classroom.Teacher)
		}
		room.TeacherID = &t.ID
	}
	for _, name := range f.Classroom.Members {
		m, ok := res.Users[name]
		if !ok {
			return nil, fmt.Errorf("classroom member %q is not a fixture user", name)
		}
		room.Members = append(room.Members, m.ID)
	}
	if err := repos.Classrooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create classroom: %w", err)
	}
	res.ClassroomID = room.ID

	for i, qf := range f.Questions {
		q := &question.Question{
			Text:    qf.Text,
			Type:    qf.Type,
			Options: qf.Options,
			Subject: qf.Subject,
		}
		if qf.Answer != "" {
			answer := qf.Answer
			q.CorrectAnswer = &answer
		}
		if err := repos.Questions.Create(ctx, q); err != nil {
			return nil, fmt.Errorf("create question %d: %w", i+1, err)
		}
		res.Questions++
	}

	for _, tf := range f.Tests {
		threshold := tf.PassThreshold
		if threshold == 0 {
			threshold = exam.DefaultPassThreshold
		}
		t := &exam.Test{
			Name:            tf.Name,
			DurationMinutes: tf.DurationMinutes,
			PassThreshold:   threshold,
			Distribution:    tf.Distribution,
		}
		if err := repos.Tests.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("create test %q: %w", tf.Name, err)
		}
		res.Tests[tf.Name] = t.ID
	}

	log.WithField("questions", res.Questions).Info("Fixture applied")
	return res, nil
}
