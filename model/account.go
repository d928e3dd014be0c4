package model

import "time"

// User is an operator or auditor account.
type User struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	Username     string `gorm:"size:64;uniqueIndex" json:"username"`
	Email        string `gorm:"size:256;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"size:128" json:"-"`
	Role         string `gorm:"size:32" json:"role"`
	Active       bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey authenticates machine clients against the HTTP surface.
type APIKey struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	KeyID   string `gorm:"size:64;uniqueIndex" json:"key_id"`
	KeyHash string `gorm:"size:128" json:"-"`
	Name    string `gorm:"size:128" json:"name"`
	Active  bool   `json:"active"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditLog records operator actions (verdicts, re-drives, publishes).
type AuditLog struct {
	ID         string  `gorm:"primaryKey;size:36" json:"id"`
	Actor      string  `gorm:"size:64;index" json:"actor"`
	Action     string  `gorm:"size:64" json:"action"`
	TargetType string  `gorm:"size:32" json:"target_type"`
	TargetID   string  `gorm:"size:64;index" json:"target_id"`
	Detail     JSONMap `gorm:"serializer:json;type:jsonb" json:"detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SystemConfig is a keyed runtime setting.
type SystemConfig struct {
	Key   string  `gorm:"primaryKey;size:64" json:"key"`
	Value JSONMap `gorm:"serializer:json;type:jsonb" json:"value"`

	UpdatedAt time.Time `json:"updated_at"`
}
