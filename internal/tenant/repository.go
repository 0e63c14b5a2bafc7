package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("tenant not found")

// Directory maps tenant identifiers to their storage locations. It lives in the
// control-plane database, never in a tenant's own storage.
type Directory interface {
	Register(ctx context.Context, name string) (*Tenant, error)
	Resolve(ctx context.Context, id uuid.UUID) (StorageLocation, error)
	List(ctx context.Context) ([]*Tenant, error)
}

type directory struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDirectory(db *gorm.DB) Directory {
	return &directory{db: db, now: time.Now}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Tenant{})
}

func (d *directory) Register(ctx context.Context, name string) (*Tenant, error) {
	log := config.WithContext(ctx)

	t := &Tenant{
		Name:            name,
		StorageLocation: NewLocation(name, d.now()),
	}
	if err := d.db.WithContext(ctx).Create(t).Error; err != nil {
		log.WithError(err).WithField("tenant_name", name).Error("Failed to register tenant")
		return nil, err
	}

	log.WithField("storage_location", t.StorageLocation).Info("Tenant registered")
	return t, nil
}

// Resolve returns the tenant's storage location. Legacy tenants created without
// one are assigned a location here, once; concurrent resolvers agree on the
// value that was written first.
func (d *directory) Resolve(ctx context.Context, id uuid.UUID) (StorageLocation, error) {
	t, err := d.find(ctx, id)
	if err != nil {
		return "", err
	}
	if t.StorageLocation != "" {
		return t.StorageLocation, nil
	}

	log := config.WithContext(ctx).WithField("tenant_id", id)
	loc := NewLocation(t.Name, d.now())

	res := d.db.WithContext(ctx).
		Model(&Tenant{}).
		Where("id = ? AND storage_location = ?", id, "").
		Update("storage_location", loc)
	if res.Error != nil {
		log.WithError(res.Error).Error("Failed to assign storage location")
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		log.WithField("storage_location", loc).Info("Assigned storage location to legacy tenant")
		return loc, nil
	}

	t, err = d.find(ctx, id)
	if err != nil {
		return "", err
	}
	if t.StorageLocation == "" {
		return "", fmt.Errorf("tenant %s: storage location still unassigned", id)
	}
	return t.StorageLocation, nil
}

func (d *directory) List(ctx context.Context) ([]*Tenant, error) {
	var tenants []*Tenant
	if err := d.db.WithContext(ctx).Order("created_at ASC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (d *directory) find(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var t Tenant
	if err := d.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
