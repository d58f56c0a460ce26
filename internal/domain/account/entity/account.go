package entity

import (
	"errors"
	"time"
)

// Publish modes an account can be configured with
const (
	PublishModeInstant = "instant"
	PublishModeBatch   = "batch"
)

// Batch threshold bounds for carousel formation
const (
	MinBatchThreshold = 2
	MaxBatchThreshold = 10
)

// Domain errors for accounts
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrInvalidThreshold   = errors.New("batch threshold out of range")
	ErrInvalidPublishMode = errors.New("invalid publish mode")
)

// Account represents one school's Instagram account. The access token is
// stored encrypted and only ever decrypted in memory.
type Account struct {
	ID       string `json:"id"`
	Handle   string `json:"handle"`
	IGUserID string `json:"ig_user_id"`

	SchoolID   string `json:"school_id"`
	SchoolName string `json:"school_name"`
	LogoURL    string `json:"logo_url,omitempty"`

	EncryptedToken string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`

	PublishMode       string   `json:"publish_mode"`
	BatchThreshold    int      `json:"batch_threshold"`
	Hashtags          []string `json:"hashtags,omitempty"`
	DefaultTemplateID string   `json:"default_template_id,omitempty"`

	IsActive       bool   `json:"is_active"`
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks account configuration
func (a *Account) Validate() error {
	switch a.PublishMode {
	case PublishModeInstant, PublishModeBatch:
	default:
		return ErrInvalidPublishMode
	}
	if a.BatchThreshold < MinBatchThreshold || a.BatchThreshold > MaxBatchThreshold {
		return ErrInvalidThreshold
	}
	return nil
}

// TokenExpiresWithin reports whether the stored token expires before the
// given horizon
func (a *Account) TokenExpiresWithin(d time.Duration, now time.Time) bool {
	return a.TokenExpiresAt.Before(now.Add(d))
}
