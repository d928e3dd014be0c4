package model

import "time"

// WebhookType selects the target protocol.
type WebhookType string

const (
	WebhookGeneric    WebhookType = "generic"
	WebhookERPSession WebhookType = "erp_session"
)

// AuthMode selects how outbound requests authenticate.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBasic  AuthMode = "basic"
	AuthBearer AuthMode = "bearer"
	AuthAPIKey AuthMode = "api_key"
)

// SaveMode selects the ERP ingestion endpoint for erp_session targets.
type SaveMode string

const (
	SaveSmart     SaveMode = "smart"
	SaveOnly      SaveMode = "save_only"
	SaveDraftOnly SaveMode = "draft_only"
)

// Webhook is a downstream delivery target. A generic webhook carries a
// valid URL; an erp_session webhook has none (the session target is
// process-wide configuration).
type Webhook struct {
	ID   string      `gorm:"primaryKey;size:36" json:"id"`
	Name string      `gorm:"size:128" json:"name"`
	Type WebhookType `gorm:"size:16" json:"type"`
	URL  string      `gorm:"size:1024" json:"url,omitempty"`

	AuthMode AuthMode `gorm:"size:16" json:"auth_mode"`
	// AuthSecret is AES-256-GCM encrypted, base64 encoded. For basic auth
	// the plaintext is "user:pass", for bearer the token, for api_key the
	// header value.
	AuthSecret string `gorm:"size:1024" json:"-"`
	// HeaderName is the custom header for api_key auth.
	HeaderName string `gorm:"size:128" json:"header_name,omitempty"`

	// SigningSecret, when set, produces the X-IDP-Signature HMAC header.
	SigningSecret string `gorm:"size:256" json:"-"`

	// Template is the request body template with {{placeholder}} tokens.
	Template string `gorm:"type:text" json:"template,omitempty"`

	SaveMode SaveMode `gorm:"size:16" json:"save_mode,omitempty"`
	Active   bool     `json:"active"`

	Rules []Rule `gorm:"many2many:rule_webhooks" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
