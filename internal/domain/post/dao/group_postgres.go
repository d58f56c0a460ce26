package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/schoolboard/internal/domain/post/entity"
)

// GroupPostgres implements GroupRepository for PostgreSQL
type GroupPostgres struct {
	pool *pgxpool.Pool
}

// NewGroupPostgres creates a new PostgreSQL carousel group repository
func NewGroupPostgres(pool *pgxpool.Pool) *GroupPostgres {
	return &GroupPostgres{pool: pool}
}

const groupColumns = `
	id, account_id, status, size, caption, pending_container_id,
	ig_media_id, ig_permalink, published_at, retry_count,
	last_error_code, last_error_message, created_at, updated_at
`

func scanGroup(row pgx.Row) (*entity.CarouselGroup, error) {
	var g entity.CarouselGroup
	var caption, containerID, igMediaID, igPermalink, errCode, errMsg *string

	err := row.Scan(
		&g.ID,
		&g.AccountID,
		&g.Status,
		&g.Size,
		&caption,
		&containerID,
		&igMediaID,
		&igPermalink,
		&g.PublishedAt,
		&g.RetryCount,
		&errCode,
		&errMsg,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if caption != nil {
		g.Caption = *caption
	}
	if containerID != nil {
		g.PendingContainerID = *containerID
	}
	if igMediaID != nil {
		g.IGMediaID = *igMediaID
	}
	if igPermalink != nil {
		g.IGPermalink = *igPermalink
	}
	if errCode != nil {
		g.LastErrorCode = *errCode
	}
	if errMsg != nil {
		g.LastErrorMessage = *errMsg
	}

	return &g, nil
}

// Create inserts a new carousel group
func (r *GroupPostgres) Create(ctx context.Context, g *entity.CarouselGroup) error {
	query := `
		INSERT INTO carousel_groups (id, account_id, status, size, caption, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		g.ID,
		g.AccountID,
		g.Status,
		g.Size,
		nullable(g.Caption),
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting carousel group: %w", err)
	}

	return nil
}

// GetByID retrieves a group by ID
func (r *GroupPostgres) GetByID(ctx context.Context, id string) (*entity.CarouselGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM carousel_groups WHERE id = $1`

	g, err := scanGroup(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning carousel group: %w", err)
	}
	return g, nil
}

// SetStatus atomically moves a group between statuses
func (r *GroupPostgres) SetStatus(ctx context.Context, id string, from, to entity.GroupStatus) (bool, error) {
	query := `
		UPDATE carousel_groups
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from, to, time.Now())
	if err != nil {
		return false, fmt.Errorf("setting group status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// SetPendingContainer persists the parent container id for retry reuse
func (r *GroupPostgres) SetPendingContainer(ctx context.Context, id, containerID string) error {
	query := `
		UPDATE carousel_groups
		SET pending_container_id = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, containerID, time.Now())
	if err != nil {
		return fmt.Errorf("setting group pending container: %w", err)
	}
	return nil
}

// SetPublished records the publish result and completes the group
func (r *GroupPostgres) SetPublished(ctx context.Context, id, igMediaID, permalink string, publishedAt time.Time) error {
	query := `
		UPDATE carousel_groups
		SET status = 'completed', ig_media_id = $2, ig_permalink = $3,
		    published_at = $4, pending_container_id = NULL, updated_at = $5
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, igMediaID, nullable(permalink), publishedAt, time.Now())
	if err != nil {
		return fmt.Errorf("setting group published: %w", err)
	}
	return nil
}

// SetFailed parks the group in failed with the final error
func (r *GroupPostgres) SetFailed(ctx context.Context, id, errCode, errMsg string) error {
	query := `
		UPDATE carousel_groups
		SET status = 'failed', last_error_code = $2, last_error_message = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, errCode, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("setting group failed: %w", err)
	}
	return nil
}

// Requeue counts a retry and moves the group back to ready
func (r *GroupPostgres) Requeue(ctx context.Context, id, errCode, errMsg string) error {
	query := `
		UPDATE carousel_groups
		SET status = 'ready', retry_count = retry_count + 1,
		    last_error_code = $2, last_error_message = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, errCode, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("requeueing group: %w", err)
	}
	return nil
}

// ListByStatus retrieves groups in a status, oldest first
func (r *GroupPostgres) ListByStatus(ctx context.Context, status entity.GroupStatus, limit int) ([]entity.CarouselGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM carousel_groups
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("querying carousel groups: %w", err)
	}
	defer rows.Close()

	var groups []entity.CarouselGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		groups = append(groups, *g)
	}

	return groups, rows.Err()
}
