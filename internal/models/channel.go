package models

import (
	"time"

	"gorm.io/gorm"
)

// Channel status values. Only active channels may be dispatched to.
const (
	ChannelStatusActive   = "active"
	ChannelStatusInactive = "inactive"
	ChannelStatusError    = "error"
)

type Channel struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ProductID    uint           `gorm:"not null;index" json:"product_id"`
	Platform     string         `gorm:"not null;size:100;index" json:"platform"`
	Name         string         `gorm:"not null;size:255" json:"name"`
	Credentials  JSONMap        `gorm:"type:jsonb" json:"-"`
	Status       string         `gorm:"size:50;default:'active';index" json:"status"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	LastUsedAt   *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Product Product `gorm:"foreignKey:ProductID" json:"-"`
}

func (c *Channel) IsActive() bool {
	return c.Status == ChannelStatusActive
}
