package question

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Bank is the part of a tenant's question repository the sampler reads.
type Bank interface {
	ListIDsBySubject(ctx context.Context, subject string) ([]uuid.UUID, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Question, error)
}

// Sampler draws a uniform random subset of a subject's questions, without replacement.
type Sampler struct {
	shuffle func(n int, swap func(i, j int))
}

func NewSampler() *Sampler {
	return &Sampler{shuffle: rand.Shuffle}
}

// NewSeededSampler returns a sampler with a deterministic draw order.
func NewSeededSampler(seed uint64) *Sampler {
	r := rand.New(rand.NewPCG(seed, seed))
	return &Sampler{shuffle: r.Shuffle}
}

// Sample returns up to count questions whose subject equals subject exactly.
// Fewer matches than requested is not an error; all matches are returned.
// The result is in draw order.
func (s *Sampler) Sample(ctx context.Context, bank Bank, subject string, count int) ([]*Question, error) {
	if count <= 0 {
		return []*Question{}, nil
	}

	ids, err := bank.ListIDsBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("list questions for subject %q: %w", subject, err)
	}

	s.shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	if len(ids) > count {
		ids = ids[:count]
	}
	if len(ids) == 0 {
		return []*Question{}, nil
	}

	found, err := bank.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load sampled questions: %w", err)
	}

	byID := make(map[uuid.UUID]*Question, len(found))
	for _, q := range found {
		byID[q.ID] = q
	}
	picked := make([]*Question, 0, len(ids))
	for _, id := range ids {
		// A question deleted between the two reads is skipped.
		if q, ok := byID[id]; ok {
			picked = append(picked, q)
		}
	}
	return picked, nil
}
