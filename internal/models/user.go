package models

import "time"

// User is an account provisioned through magic-link sign-in. There is no
// password column: proof of control over the email address is the only
// credential this service knows about.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	RealName string `json:"real_name"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`
}
