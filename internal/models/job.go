package models

import (
	"time"
)

// Delivery job states.
const (
	JobStatusPending   = "pending"
	JobStatusClaimed   = "claimed"
	JobStatusCompleted = "completed"
	JobStatusAbandoned = "abandoned"
	JobStatusCancelled = "cancelled"
)

// DeliveryJob is one row of the durable delivery queue. The payload is only
// the publication id; workers re-read the publication from the database, which
// is the source of truth on any divergence.
type DeliveryJob struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	PublicationID uint      `gorm:"not null;index" json:"publication_id"`
	Status        string    `gorm:"size:50;default:'pending';index" json:"status"`
	RunAt         time.Time `gorm:"not null;index" json:"run_at"`
	Attempts      int       `gorm:"default:0" json:"attempts"`
	MaxAttempts   int       `gorm:"default:5" json:"max_attempts"`
	LastError     string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
