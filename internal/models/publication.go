package models

import (
	"time"

	"gorm.io/gorm"
)

// Publication status values.
//
// scheduled -> publishing -> published        (terminal success)
// publishing -> failed                        (terminal, retriable by operator)
// scheduled  -> failed                        (channel became unusable before dispatch)
const (
	PublicationStatusScheduled  = "scheduled"
	PublicationStatusPublishing = "publishing"
	PublicationStatusPublished  = "published"
	PublicationStatusFailed     = "failed"
)

// Error codes recorded on failed publications.
const (
	ErrCodeChannelInactive    = "CHANNEL_INACTIVE"
	ErrCodeQueueError         = "QUEUE_ERROR"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodePlatformError      = "PLATFORM_ERROR"
)

// Publication is one delivery of a Content item to a Channel.
type Publication struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ContentID      uint           `gorm:"not null;index" json:"content_id"`
	ChannelID      uint           `gorm:"not null;index" json:"channel_id"`
	Status         string         `gorm:"size:50;default:'scheduled';index" json:"status"`
	ScheduledAt    *time.Time     `gorm:"index" json:"scheduled_at,omitempty"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
	PlatformPostID string         `gorm:"size:255" json:"platform_post_id,omitempty"`
	PlatformURL    string         `gorm:"size:1024" json:"platform_url,omitempty"`
	ErrorCode      string         `gorm:"size:100" json:"error_code,omitempty"`
	ErrorMessage   string         `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount     int            `gorm:"default:0" json:"retry_count"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Content Content `gorm:"foreignKey:ContentID" json:"-"`
	Channel Channel `gorm:"foreignKey:ChannelID" json:"-"`
}

// IsTerminal reports whether the publication reached an end state.
func (p *Publication) IsTerminal() bool {
	return p.Status == PublicationStatusPublished || p.Status == PublicationStatusFailed
}
