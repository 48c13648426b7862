package domain

import (
	"time"
)

// TokenPreference is the locally persisted mirror of a user's token preference
type TokenPreference struct {
	TokenAddress string    `gorm:"primaryKey" json:"token_address"`
	IsFavorite   bool      `json:"is_favorite" gorm:"index"` // User favorite status
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigKeyLastSubject stores the subject key the feed was last pointed at.
const ConfigKeyLastSubject = "feed.last_subject"
