package storage

import (
	"time"

	"gorm.io/datatypes"
)

// BlockRule is a persisted hostname/URL blocklist entry. Pattern holds a
// regular expression matched against both the hostname and the full URL of
// incoming proxy requests.
type BlockRule struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Pattern     string         `gorm:"type:varchar(512);uniqueIndex;not null" json:"pattern"`
	Description string         `gorm:"type:text" json:"description"`
	Enabled     bool           `gorm:"default:true" json:"enabled"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (BlockRule) TableName() string {
	return "block_rules"
}

// DetectionToken is a persisted sandbox/fingerprint signature matched as a
// case-insensitive substring inside scripts and handler attributes.
type DetectionToken struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Token       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	Description string    `gorm:"type:text" json:"description"`
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (DetectionToken) TableName() string {
	return "detection_tokens"
}
