package entity

import (
	"time"
)

// PublishMode controls how an approved forum post reaches Instagram
type PublishMode string

const (
	// PublishModeInstant publishes each post as its own feed image
	PublishModeInstant PublishMode = "instant"
	// PublishModeBatch accumulates posts into carousel digests
	PublishModeBatch PublishMode = "batch"
)

// Status represents where a post sits in the publishing pipeline
type Status string

const (
	StatusPending    Status = "pending"
	StatusRendering  Status = "rendering"
	StatusReady      Status = "ready"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the allowed status graph. Reservation moves a post into a
// working status, completion moves it forward, failure either requeues it to
// the phase start or parks it in failed.
var transitions = map[Status][]Status{
	StatusPending:    {StatusRendering, StatusCancelled},
	StatusRendering:  {StatusReady, StatusPending, StatusFailed},
	StatusReady:      {StatusPublishing, StatusCancelled},
	StatusPublishing: {StatusPublished, StatusReady, StatusFailed},
	StatusPublished:  {},
	StatusFailed:     {StatusPending, StatusReady},
	StatusCancelled:  {},
}

// CanTransition reports whether moving from one status to another is allowed
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions except
// operator requeue
func (s Status) IsTerminal() bool {
	return s == StatusPublished || s == StatusCancelled
}

// Post represents one approved forum post travelling through the pipeline.
// The forum content is snapshotted at enqueue time so later edits on the
// forum side do not affect the rendered card.
type Post struct {
	ID          string      `json:"id"`
	PublicID    string      `json:"public_id"`
	AccountID   string      `json:"account_id"`
	TemplateID  string      `json:"template_id,omitempty"`
	ForumPostID string      `json:"forum_post_id"`
	PublishMode PublishMode `json:"publish_mode"`
	Status      Status      `json:"status"`
	Priority    int         `json:"priority"`

	Title         string    `json:"title"`
	Body          string    `json:"body"`
	AuthorDisplay string    `json:"author_display"`
	ForumPostedAt time.Time `json:"forum_posted_at"`

	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`

	PendingContainerID string     `json:"pending_container_id,omitempty"`
	IGMediaID          string     `json:"ig_media_id,omitempty"`
	IGPermalink        string     `json:"ig_permalink,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`

	RetryCount       int    `json:"retry_count"`
	LastErrorCode    string `json:"last_error_code,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`

	CarouselGroupID  string `json:"carousel_group_id,omitempty"`
	CarouselPosition int    `json:"carousel_position,omitempty"`
	WorkerToken      string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCancellable reports whether the post can still be pulled from the
// pipeline. Once publishing starts the Graph API side cannot be undone.
func (p *Post) IsCancellable() bool {
	return p.Status == StatusPending || p.Status == StatusReady
}

// Validate checks the fields required at enqueue time
func (p *Post) Validate() error {
	if p.AccountID == "" {
		return ErrEmptyAccountID
	}
	if p.ForumPostID == "" {
		return ErrEmptyForumPostID
	}
	if p.Title == "" && p.Body == "" {
		return ErrEmptyContent
	}
	switch p.PublishMode {
	case PublishModeInstant, PublishModeBatch:
	default:
		return ErrInvalidPublishMode
	}
	return nil
}
