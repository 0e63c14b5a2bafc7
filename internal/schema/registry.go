// Package schema binds the tenant record types to a storage handle. Each
// (handle, record type) pair is migrated once and yields one accessor.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/saulo-duarte/cbt-engine/internal/attempt"
	"github.com/saulo-duarte/cbt-engine/internal/classroom"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/exam"
	"github.com/saulo-duarte/cbt-engine/internal/question"
	"github.com/saulo-duarte/cbt-engine/internal/user"
	"gorm.io/gorm"
)

type RecordType string

const (
	RecordUser      RecordType = "user"
	RecordClassroom RecordType = "classroom"
	RecordQuestion  RecordType = "question"
	RecordTest      RecordType = "test"
	RecordAttempt   RecordType = "attempt"
)

var ErrUnknownRecordType = errors.New("unknown record type")

// Migrator installs the structural definition of model on db.
type Migrator func(ctx context.Context, db *gorm.DB, model interface{}) error

func AutoMigrate(ctx context.Context, db *gorm.DB, model interface{}) error {
	return db.WithContext(ctx).AutoMigrate(model)
}

type definition struct {
	model    func() interface{}
	accessor func(db *gorm.DB) interface{}
}

var definitions = map[RecordType]definition{
	RecordUser: {
		model:    func() interface{} { return &user.User{} },
		accessor: func(db *gorm.DB) interface{} { return user.NewUserRepository(db) },
	},
	RecordClassroom: {
		model:    func() interface{} { return &classroom.Classroom{} },
		accessor: func(db *gorm.DB) interface{} { return classroom.NewRepository(db) },
	},
	RecordQuestion: {
		model:    func() interface{} { return &question.Question{} },
		accessor: func(db *gorm.DB) interface{} { return question.NewRepository(db) },
	},
	RecordTest: {
		model:    func() interface{} { return &exam.Test{} },
		accessor: func(db *gorm.DB) interface{} { return exam.NewRepository(db) },
	},
	RecordAttempt: {
		model:    func() interface{} { return &attempt.Attempt{} },
		accessor: func(db *gorm.DB) interface{} { return attempt.NewRepository(db) },
	},
}

type bindingKey struct {
	db *gorm.DB
	rt RecordType
}

type binding struct {
	mu       sync.Mutex
	accessor interface{}
}

type Registry struct {
	migrate Migrator

	mu       sync.Mutex
	bindings map[bindingKey]*binding
}

func NewRegistry(migrate Migrator) *Registry {
	if migrate == nil {
		migrate = AutoMigrate
	}
	return &Registry{
		migrate:  migrate,
		bindings: make(map[bindingKey]*binding),
	}
}

// Bind returns the accessor for rt on db. The first call for a pair migrates the
// record's table; later calls return the same accessor without touching storage.
// A failed migration leaves the pair unbound so the next call retries.
func (r *Registry) Bind(ctx context.Context, db *gorm.DB, rt RecordType) (interface{}, error) {
	def, ok := definitions[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, rt)
	}

	b := r.entry(bindingKey{db: db, rt: rt})
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.accessor != nil {
		return b.accessor, nil
	}

	if err := r.migrate(ctx, db, def.model()); err != nil {
		config.WithContext(ctx).WithError(err).WithField("record_type", rt).Error("Failed to register record type")
		return nil, fmt.Errorf("register %s: %w", rt, err)
	}
	b.accessor = def.accessor(db)
	return b.accessor, nil
}

func (r *Registry) entry(k bindingKey) *binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[k]
	if !ok {
		b = &binding{}
		r.bindings[k] = b
	}
	return b
}

// Repositories bundles the accessors of every record type for one tenant handle.
type Repositories struct {
	Users      user.UserRepository
	Classrooms classroom.Repository
	Questions  question.Repository
	Tests      exam.Repository
	Attempts   attempt.Repository
}

func (r *Registry) Repositories(ctx context.Context, db *gorm.DB) (*Repositories, error) {
	repos := &Repositories{}
	var err error
	if repos.Users, err = bindAs[user.UserRepository](ctx, r, db, RecordUser); err != nil {
		return nil, err
	}
	if repos.Classrooms, err = bindAs[classroom.Repository](ctx, r, db, RecordClassroom); err != nil {
		return nil, err
	}
	if repos.Questions, err = bindAs[question.Repository](ctx, r, db, RecordQuestion); err != nil {
		return nil, err
	}
	if repos.Tests, err = bindAs[exam.Repository](ctx, r, db, RecordTest); err != nil {
		return nil, err
	}
	if repos.Attempts, err = bindAs[attempt.Repository](ctx, r, db, RecordAttempt); err != nil {
		return nil, err
	}
	return repos, nil
}

func bindAs[T any](ctx context.Context, r *Registry, db *gorm.DB, rt RecordType) (T, error) {
	var zero T
	v, err := r.Bind(ctx, db, rt)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("record type %s bound to unexpected accessor %T", rt, v)
	}
	return typed, nil
}
