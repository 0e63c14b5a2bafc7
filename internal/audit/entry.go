package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionStartTest           = "start_test"
	ActionSubmitTest          = "submit_test"
	ActionGradeAnswer         = "grade_answer"
	ActionRescoreRequested    = "rescore_requested"
	ActionBackgroundScoreTest = "background_score_test"

	ResourceAttempt = "attempt"
	ResourceTest    = "test"

	// BackgroundIP marks entries written by the scoring worker rather than a request.
	BackgroundIP = "background_worker"
)

// Entry is one audit record. It lives in the control-plane database next to the
// tenant directory, tagged with the tenant it belongs to.
type Entry struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     *uuid.UUID        `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	Location     string            `gorm:"type:text;index" json:"storage_location,omitempty"`
	Action       string            `gorm:"type:text;not null;index" json:"action"`
	ResourceType string            `gorm:"type:text;not null" json:"resource_type"`
	ResourceID   uuid.UUID         `gorm:"type:uuid" json:"resource_id"`
	ActorID      uuid.UUID         `gorm:"type:uuid;index" json:"actor_id"`
	Details      datatypes.JSONMap `json:"details,omitempty"`
	IP           string            `gorm:"type:text" json:"ip,omitempty"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (Entry) TableName() string {
	return "audit_logs"
}

func (e *Entry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
