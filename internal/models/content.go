package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

// Adaptation is a per-platform variant of a piece of content.
type Adaptation struct {
	Text     string   `json:"text"`
	Length   int      `json:"length"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// AdaptationMap maps a platform name to its adapted variant, stored as JSON.
type AdaptationMap map[string]Adaptation

// Scan implements the sql.Scanner interface
func (a *AdaptationMap) Scan(value interface{}) error {
	*a = AdaptationMap{}
	return scanJSON(a, value)
}

// Value implements the driver.Valuer interface
func (a AdaptationMap) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return valueJSON(a)
}

type Product struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null;size:255" json:"name"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

type Content struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ProductID   uint           `gorm:"not null;index" json:"product_id"`
	Body        string         `gorm:"type:text;not null" json:"body"`
	Adaptations AdaptationMap  `gorm:"type:jsonb" json:"adaptations"`
	Published   bool           `gorm:"default:false" json:"published"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Product Product `gorm:"foreignKey:ProductID" json:"-"`
}
