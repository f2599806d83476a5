package models

import "time"

// RateCounter is a shared fixed-window request counter. Keeping it in the
// primary database lets every replica see the same counts.
type RateCounter struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Count     int64     `gorm:"not null" json:"count"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
