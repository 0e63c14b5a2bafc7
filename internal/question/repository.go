package question

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("question not found")

type Repository interface {
	Create(ctx context.Context, q *Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*Question, error)
	ListIDsBySubject(ctx context.Context, subject string) ([]uuid.UUID, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Question, error)
	CorrectAnswers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, q *Question) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Question, error) {
	var q Question
	if err := r.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &q, nil
}

// ListIDsBySubject matches the subject exactly, case included.
func (r *repository) ListIDsBySubject(ctx context.Context, subject string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&Question{}).
		Where("subject = ?", subject).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []*Question
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

// CorrectAnswers returns the answer key for the given questions. Essay questions
// and questions without a correct answer are left out of the map.
func (r *repository) CorrectAnswers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	key := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return key, nil
	}

	var rows []struct {
		ID            uuid.UUID
		CorrectAnswer *string
	}
	if err := r.db.WithContext(ctx).
		Model(&Question{}).
		Select("id", "correct_answer").
		Where("id IN ? AND type <> ?", ids, TypeEssay).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.CorrectAnswer != nil && *row.CorrectAnswer != "" {
			key[row.ID] = *row.CorrectAnswer
		}
	}
	return key, nil
}
