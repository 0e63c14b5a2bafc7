// Package recovery periodically queues scoring jobs for attempts whose time ran
// out without a submission.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/exam"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
)

const DefaultSchedule = "@every 5m"

type Directory interface {
	List(ctx context.Context) ([]*tenant.Tenant, error)
}

type Locations interface {
	ForLocation(ctx context.Context, loc tenant.StorageLocation) (*schema.Repositories, error)
}

type Sweeper struct {
	directory Directory
	locations Locations
	jobs      queue.Enqueuer
	now       func() time.Time
}

func NewSweeper(directory Directory, locations Locations, jobs queue.Enqueuer, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{directory: directory, locations: locations, jobs: jobs, now: now}
}

// Sweep enqueues one scoring job per expired, unsubmitted attempt across all
// tenants and returns how many it queued. A tenant whose storage is unavailable
// is skipped until the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	log := config.WithContext(ctx)

	tenants, err := s.directory.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	now := s.now()
	var queued int
	for _, t := range tenants {
		if t.StorageLocation == "" {
			continue
		}
		n, err := s.sweepTenant(ctx, t.StorageLocation, now)
		queued += n
		if err != nil {
			log.WithError(err).WithField("storage_location", t.StorageLocation).Warn("Recovery sweep skipped tenant")
		}
	}

	if queued > 0 {
		log.WithField("queued", queued).Info("Recovery sweep queued expired attempts")
	}
	return queued, nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, loc tenant.StorageLocation, now time.Time) (int, error) {
	repos, err := s.locations.ForLocation(ctx, loc)
	if err != nil {
		return 0, err
	}

	open, err := repos.Attempts.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}

	seen := make(map[uuid.UUID]bool)
	var testIDs []uuid.UUID
	for _, a := range open {
		if !seen[a.TestID] {
			seen[a.TestID] = true
			testIDs = append(testIDs, a.TestID)
		}
	}
	tests, err := repos.Tests.FindByIDs(ctx, testIDs)
	if err != nil {
		return 0, err
	}
	byID := make(map[uuid.UUID]*exam.Test, len(tests))
	for _, t := range tests {
		byID[t.ID] = t
	}

	var queued int
	for _, a := range open {
		t, ok := byID[a.TestID]
		if !ok || !now.After(t.Deadline(a.StartTime)) {
			continue
		}
		if err := s.jobs.Enqueue(ctx, queue.ScoreSubmission, queue.ScorePayload{
			AttemptID:       a.ID,
			StorageLocation: loc.String(),
			UserID:          a.UserID,
		}); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

// Start schedules Sweep on spec and starts the scheduler. A run still in
// progress when the next one is due causes that next run to be skipped.
// Stop the returned scheduler on shutdown.
func (s *Sweeper) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			config.WithContext(ctx).WithError(err).Error("Recovery sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule recovery sweep %q: %w", spec, err)
	}
	c.Start()

	config.WithContext(ctx).WithField("schedule", spec).Info("Recovery sweeper scheduled")
	return c, nil
}
