package entity

import (
	"errors"
	"time"
)

// Template represents a reusable card layout. Config is a free-form bag
// of renderer settings; it is validated against the renderer's schema
// on every write.
type Template struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"account_id"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config"`
	UsageCount int            `json:"usage_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Domain errors for Templates
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrEmptyName        = errors.New("template name cannot be empty")
	ErrNameTooLong      = errors.New("template name exceeds maximum length")
	ErrTemplateInUse    = errors.New("template is referenced by queued posts or accounts")
)

// MaxNameLength is the maximum length of a template name
const MaxNameLength = 255

// Validate validates template fields. Config contents are validated
// separately by the renderer schema.
func (t *Template) Validate() error {
	if t.Name == "" {
		return ErrEmptyName
	}
	if len(t.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}
