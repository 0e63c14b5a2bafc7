package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Opener constructs a new handle for a storage location.
type Opener func(ctx context.Context, loc tenant.StorageLocation) (*gorm.DB, error)

// Registry keeps at most one live handle per storage location. Handles are
// created on first use and kept for the life of the process.
type Registry struct {
	open Opener

	mu      sync.RWMutex
	handles map[tenant.StorageLocation]*gorm.DB
	group   singleflight.Group
}

func NewRegistry(open Opener) *Registry {
	return &Registry{
		open:    open,
		handles: make(map[tenant.StorageLocation]*gorm.DB),
	}
}

// Handle returns the cached handle for loc, constructing it if needed.
// Concurrent first callers share a single construction; a failed construction
// is not cached, so the next call tries again.
func (r *Registry) Handle(ctx context.Context, loc tenant.StorageLocation) (*gorm.DB, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if db, ok := r.lookup(loc); ok {
		return db, nil
	}

	v, err, _ := r.group.Do(loc.String(), func() (interface{}, error) {
		if db, ok := r.lookup(loc); ok {
			return db, nil
		}

		log := config.WithContext(ctx).WithField("storage_location", loc)
		// One caller's cancellation must not fail the others waiting on this construction.
		db, err := r.open(context.WithoutCancel(ctx), loc)
		if err != nil {
			log.WithError(err).Error("Failed to open tenant storage handle")
			return nil, err
		}

		r.mu.Lock()
		r.handles[loc] = db
		r.mu.Unlock()

		log.Info("Opened tenant storage handle")
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close releases every handle. Only meant for process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for loc, db := range r.handles {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", loc, err))
		}
		delete(r.handles, loc)
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(loc tenant.StorageLocation) (*gorm.DB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.handles[loc]
	return db, ok
}

// SchemaOpener creates the tenant's schema through the control handle if it does
// not exist yet and opens a handle whose search_path points at it.
func SchemaOpener(control *gorm.DB, baseDSN string, pool PoolConfig) Opener {
	return func(ctx context.Context, loc tenant.StorageLocation) (*gorm.DB, error) {
		stmt := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{loc.String()}.Sanitize()
		if err := control.WithContext(ctx).Exec(stmt).Error; err != nil && !isDuplicateSchema(err) {
			return nil, fmt.Errorf("create schema %s: %w", loc, err)
		}

		dsn, err := LocationDSN(baseDSN, loc)
		if err != nil {
			return nil, err
		}
		return Connect(ctx, dsn, pool)
	}
}

// IF NOT EXISTS still races on the catalog's unique index when two processes
// create the same schema at once.
func isDuplicateSchema(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P06" || pgErr.Code == "23505"
	}
	return false
}
