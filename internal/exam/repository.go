package exam

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("test not found")

type Repository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Test, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, t *Test) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	var t Test
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Test, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tests []*Test
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tests).Error; err != nil {
		return nil, err
	}
	return tests, nil
}
