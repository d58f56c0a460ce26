package entity

import "time"

// GroupStatus represents where a carousel group sits in its lifecycle
type GroupStatus string

const (
	GroupStatusForming    GroupStatus = "forming"
	GroupStatusReady      GroupStatus = "ready"
	GroupStatusProcessing GroupStatus = "processing"
	GroupStatusCompleted  GroupStatus = "completed"
	GroupStatusFailed     GroupStatus = "failed"
)

// CarouselGroup bundles rendered batch-mode posts into one carousel digest.
// Member posts reference the group by id and carry their slot order in
// carousel_position.
type CarouselGroup struct {
	ID        string      `json:"id"`
	AccountID string      `json:"account_id"`
	Status    GroupStatus `json:"status"`
	Size      int         `json:"size"`

	Caption            string     `json:"caption,omitempty"`
	PendingContainerID string     `json:"pending_container_id,omitempty"`
	IGMediaID          string     `json:"ig_media_id,omitempty"`
	IGPermalink        string     `json:"ig_permalink,omitempty"`
	PublishedAt        *time.Time `json:"published_at,omitempty"`

	RetryCount       int    `json:"retry_count"`
	LastErrorCode    string `json:"last_error_code,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupMember is one slot of a carousel group in display order
type GroupMember struct {
	PostID             string `json:"post_id"`
	Position           int    `json:"position"`
	ImageURL           string `json:"image_url"`
	PendingContainerID string `json:"pending_container_id,omitempty"`
}
