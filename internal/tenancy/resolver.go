// Package tenancy turns a tenant identifier into that tenant's repositories.
package tenancy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
	"gorm.io/gorm"
)

// Directory is the part of the tenant directory the resolver needs.
type Directory interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (tenant.StorageLocation, error)
}

// Connections hands out one storage handle per location.
type Connections interface {
	Handle(ctx context.Context, loc tenant.StorageLocation) (*gorm.DB, error)
}

// Schemas binds record types to a handle.
type Schemas interface {
	Repositories(ctx context.Context, db *gorm.DB) (*schema.Repositories, error)
}

// Source is what the session engine and the worker depend on.
type Source interface {
	Locate(ctx context.Context, tenantID uuid.UUID) (tenant.StorageLocation, error)
	ForTenant(ctx context.Context, tenantID uuid.UUID) (*schema.Repositories, error)
	ForLocation(ctx context.Context, loc tenant.StorageLocation) (*schema.Repositories, error)
}

type Resolver struct {
	directory   Directory
	connections Connections
	schemas     Schemas
}

func NewResolver(directory Directory, connections Connections, schemas Schemas) *Resolver {
	return &Resolver{
		directory:   directory,
		connections: connections,
		schemas:     schemas,
	}
}

func (r *Resolver) Locate(ctx context.Context, tenantID uuid.UUID) (tenant.StorageLocation, error) {
	loc, err := r.directory.Resolve(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	return loc, nil
}

func (r *Resolver) ForTenant(ctx context.Context, tenantID uuid.UUID) (*schema.Repositories, error) {
	loc, err := r.Locate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return r.ForLocation(ctx, loc)
}

func (r *Resolver) ForLocation(ctx context.Context, loc tenant.StorageLocation) (*schema.Repositories, error) {
	db, err := r.connections.Handle(ctx, loc)
	if err != nil {
		config.WithContext(ctx).WithError(err).WithField("storage_location", loc).Error("Tenant storage unavailable")
		return nil, fmt.Errorf("storage %s: %w", loc, err)
	}
	return r.schemas.Repositories(ctx, db)
}
