package models

import (
	"time"
)

const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDisabled  = "disabled"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                string
	TenantID          string
	Email             string
	PasswordHash      string
	Name              string
	Role              string // e.g., "user", "admin"
	Status            string // "active", "suspended", "disabled"
	EmailVerified     bool
	MFAEnabled        bool
	TOTPSecret        string     // Base32 secret, empty unless MFA is enrolled
	PasswordChangedAt *time.Time // Last password change, for token invalidation
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
