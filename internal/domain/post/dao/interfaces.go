package dao

import (
	"context"
	"time"

	"github.com/vadim/schoolboard/internal/domain/post/entity"
)

// BatchBacklog reports how many ungrouped rendered batch posts an account has
type BatchBacklog struct {
	AccountID string
	Ready     int
}

// PostRepository defines the interface for pipeline post data access.
// Reservation methods are compare-and-set on (id, status) so that
// concurrent workers never pick up the same post twice.
type PostRepository interface {
	// Create inserts a new post in pending status
	Create(ctx context.Context, p *entity.Post) error

	// GetByID retrieves a post by its internal ID
	GetByID(ctx context.Context, id string) (*entity.Post, error)

	// GetByPublicID retrieves a post by its public identifier
	GetByPublicID(ctx context.Context, publicID string) (*entity.Post, error)

	// ListForRender retrieves pending posts ordered by priority then age
	ListForRender(ctx context.Context, limit int) ([]entity.Post, error)

	// ListInstantReady retrieves rendered instant-mode posts awaiting publish
	ListInstantReady(ctx context.Context, limit int) ([]entity.Post, error)

	// ListCarouselCandidates retrieves rendered ungrouped batch-mode posts
	// for one account, oldest first with id as tie-break
	ListCarouselCandidates(ctx context.Context, accountID string, limit int) ([]entity.Post, error)

	// ListBatchBacklog reports accounts holding ungrouped rendered batch posts
	ListBatchBacklog(ctx context.Context) ([]BatchBacklog, error)

	// Reserve atomically moves a post from one status to a working status
	// and stamps the worker token. Returns false when another worker won.
	Reserve(ctx context.Context, id string, from, to entity.Status, workerToken string) (bool, error)

	// Release moves a reserved post back without counting a retry
	Release(ctx context.Context, id string, from, to entity.Status) error

	// SetRendered stores the render result and moves the post to ready
	SetRendered(ctx context.Context, id, imageURL, caption string) error

	// SetPendingContainer persists a created Graph container id so a retry
	// can resume instead of creating a duplicate
	SetPendingContainer(ctx context.Context, id, containerID string) error

	// SetPublished records the publish result and moves the post to
	// published. Only a post in publishing moves; a racing terminal
	// transition wins.
	SetPublished(ctx context.Context, id, igMediaID, permalink string, publishedAt time.Time) error

	// SetRecoveryNote records how the reconciler resolved a stranded post
	SetRecoveryNote(ctx context.Context, id, errCode, errMsg string) error

	// SetFailed parks the post in failed with the final error
	SetFailed(ctx context.Context, id, errCode, errMsg string) error

	// RequeueRender counts a retry and moves the post back to pending
	RequeueRender(ctx context.Context, id, errCode, errMsg string) error

	// RequeuePublish counts a retry and moves the post back to ready
	RequeuePublish(ctx context.Context, id, errCode, errMsg string) error

	// AssignGroup attaches posts to a carousel group in display order
	AssignGroup(ctx context.Context, groupID string, postIDs []string) error

	// ClearGroup detaches all posts of a group so they can be re-formed
	ClearGroup(ctx context.Context, groupID string) error

	// ListByGroup retrieves the posts of a group ordered by carousel position
	ListByGroup(ctx context.Context, groupID string) ([]entity.Post, error)

	// Stuck retrieves posts sitting in a working status since before the cutoff
	Stuck(ctx context.Context, before time.Time) ([]entity.Post, error)

	// Cancel moves a post to cancelled if it is still in the given status
	Cancel(ctx context.Context, id string, from entity.Status) (bool, error)

	// GetStatistics aggregates per-status counters for an account
	GetStatistics(ctx context.Context, accountID string) (*entity.Statistics, error)
}

// GroupRepository defines the interface for carousel group data access
type GroupRepository interface {
	// Create inserts a new carousel group
	Create(ctx context.Context, g *entity.CarouselGroup) error

	// GetByID retrieves a group by ID
	GetByID(ctx context.Context, id string) (*entity.CarouselGroup, error)

	// SetStatus atomically moves a group between statuses.
	// Returns false when the group is no longer in the expected status.
	SetStatus(ctx context.Context, id string, from, to entity.GroupStatus) (bool, error)

	// SetPendingContainer persists the parent container id for retry reuse
	SetPendingContainer(ctx context.Context, id, containerID string) error

	// SetPublished records the publish result and completes the group
	SetPublished(ctx context.Context, id, igMediaID, permalink string, publishedAt time.Time) error

	// SetFailed parks the group in failed with the final error
	SetFailed(ctx context.Context, id, errCode, errMsg string) error

	// Requeue counts a retry and moves the group back to ready
	Requeue(ctx context.Context, id, errCode, errMsg string) error

	// ListByStatus retrieves groups in a status, oldest first
	ListByStatus(ctx context.Context, status entity.GroupStatus, limit int) ([]entity.CarouselGroup, error)
}
