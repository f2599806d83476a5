package models

import "time"

// MagicLinkToken is the server-side record backing one issued magic link.
// The row is keyed by the full token string exactly as sent to the user and
// exists only between issuance and first consumption (or purge).
//
// Entropy never leaves the server outside the token's encrypted block; the
// IV is required to decrypt that block and is not derivable from the token.
type MagicLinkToken struct {
	Token     string    `gorm:"primaryKey" json:"-"`
	IV        []byte    `gorm:"not null" json:"-"`
	Email     string    `gorm:"not null;index" json:"email"`
	Entropy   string    `gorm:"not null" json:"-"`
	ExpiresAt int64     `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
