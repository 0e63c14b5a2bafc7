package classroom

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Classroom struct {
	ID        uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string                         `gorm:"type:text;not null" json:"name"`
	Subjects  datatypes.JSONSlice[string]    `json:"subjects"`
	TeacherID *uuid.UUID                     `gorm:"type:uuid" json:"teacher_id,omitempty"`
	Members   datatypes.JSONSlice[uuid.UUID] `json:"members"`
	CreatedAt time.Time                      `gorm:"autoCreateTime" json:"created_at"`
}

func (c *Classroom) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// HasSubject matches exactly, case included.
func (c *Classroom) HasSubject(subject string) bool {
	for _, s := range c.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func (c *Classroom) HasMember(userID uuid.UUID) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}
