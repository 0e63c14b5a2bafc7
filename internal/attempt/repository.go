package attempt

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("attempt not found")
	// ErrConflict means another writer changed the attempt since it was read.
	ErrConflict = errors.New("attempt was modified concurrently")
)

type Repository interface {
	Create(ctx context.Context, a *Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error)
	// Finalize writes answers, score, pass flag and end time, but only while the
	// attempt is still open and unchanged since it was read.
	Finalize(ctx context.Context, a *Attempt) error
	// SaveScore rewrites score and pass flag of an attempt unchanged since it was read.
	SaveScore(ctx context.Context, a *Attempt) error
	// SaveAnswers rewrites the stored answers of an attempt unchanged since it was read.
	SaveAnswers(ctx context.Context, a *Attempt) error
	ListOpen(ctx context.Context) ([]*Attempt, error)
	ListSubmitted(ctx context.Context) ([]*Attempt, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, a *Attempt) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	var a Attempt
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *repository) Finalize(ctx context.Context, a *Attempt) error {
	return r.swap(ctx, a, true, map[string]interface{}{
		"answers":   a.Answers,
		"score":     a.Score,
		"is_passed": a.IsPassed,
		"end_time":  a.EndTime,
	})
}

func (r *repository) SaveScore(ctx context.Context, a *Attempt) error {
	return r.swap(ctx, a, false, map[string]interface{}{
		"score":     a.Score,
		"is_passed": a.IsPassed,
	})
}

func (r *repository) SaveAnswers(ctx context.Context, a *Attempt) error {
	return r.swap(ctx, a, false, map[string]interface{}{
		"answers": a.Answers,
	})
}

func (r *repository) ListOpen(ctx context.Context) ([]*Attempt, error) {
	var attempts []*Attempt
	if err := r.db.WithContext(ctx).
		Where("end_time IS NULL").
		Order("start_time ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repository) ListSubmitted(ctx context.Context) ([]*Attempt, error) {
	var attempts []*Attempt
	if err := r.db.WithContext(ctx).
		Where("end_time IS NOT NULL").
		Order("end_time ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

// swap applies fields only if the stored version still equals a.Version, and
// bumps the version on success.
func (r *repository) swap(ctx context.Context, a *Attempt, requireOpen bool, fields map[string]interface{}) error {
	fields["version"] = gorm.Expr("version + 1")

	q := r.db.WithContext(ctx).
		Model(&Attempt{}).
		Where("id = ? AND version = ?", a.ID, a.Version)
	if requireOpen {
		q = q.Where("end_time IS NULL")
	}

	res := q.Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	a.Version++
	return nil
}
