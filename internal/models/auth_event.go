package models

import "gorm.io/datatypes"

// AuthEvent records one issuance or redemption attempt for operational
// forensics. Events never contain token material or entropy.
type AuthEvent struct {
	BaseModel

	UserID    *string        `gorm:"type:uuid;index" json:"user_id"`
	User      *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Email     string         `gorm:"index" json:"email"`
	Action    string         `gorm:"not null;index" json:"action"`
	Result    string         `gorm:"not null" json:"result"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Metadata  datatypes.JSON `json:"metadata"`
}
