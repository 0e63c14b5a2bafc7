package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrInvalidLocation = errors.New("invalid storage location")

// StorageLocation names one tenant's isolated storage (a Postgres schema).
type StorageLocation string

var locationPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func (l StorageLocation) Validate() error {
	if !locationPattern.MatchString(string(l)) {
		return fmt.Errorf("%w: %q", ErrInvalidLocation, string(l))
	}
	return nil
}

func (l StorageLocation) String() string {
	return string(l)
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// NewLocation derives a fresh location from a tenant name, e.g. "school_green_hill_1718000000000".
func NewLocation(name string, now time.Time) StorageLocation {
	safe := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	suffix := fmt.Sprintf("_%d", now.UnixMilli())
	prefix := "school_"
	if limit := 63 - len(prefix) - len(suffix); len(safe) > limit {
		safe = strings.TrimRight(safe[:limit], "_")
	}
	if safe == "" {
		return StorageLocation(prefix + strings.TrimPrefix(suffix, "_"))
	}
	return StorageLocation(prefix + safe + suffix)
}

type Tenant struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string          `gorm:"type:text;not null;uniqueIndex" json:"name"`
	StorageLocation StorageLocation `gorm:"type:text;not null;default:''" json:"storage_location"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
