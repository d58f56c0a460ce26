package entity

import "errors"

// Domain errors for the publishing pipeline
var (
	// Validation errors
	ErrEmptyAccountID     = errors.New("account ID is required")
	ErrEmptyForumPostID   = errors.New("forum post ID is required")
	ErrEmptyContent       = errors.New("post needs a title or a body")
	ErrInvalidPublishMode = errors.New("invalid publish mode")

	// Business logic errors
	ErrPostNotFound        = errors.New("post not found")
	ErrGroupNotFound       = errors.New("carousel group not found")
	ErrPostNotCancellable  = errors.New("post cannot be cancelled in current status")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrAlreadyReserved     = errors.New("post is already reserved by another worker")
	ErrRetriesExhausted    = errors.New("retry budget exhausted")
	ErrAccountDegraded     = errors.New("account is degraded, publishing paused")
)
