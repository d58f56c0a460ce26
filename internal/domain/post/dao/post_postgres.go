package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/schoolboard/internal/domain/post/entity"
)

// PostPostgres implements PostRepository for PostgreSQL
type PostPostgres struct {
	pool *pgxpool.Pool
}

// NewPostPostgres creates a new PostgreSQL post repository
func NewPostPostgres(pool *pgxpool.Pool) *PostPostgres {
	return &PostPostgres{pool: pool}
}

const postColumns = `
	id, public_id, account_id, template_id, forum_post_id, publish_mode,
	status, priority, title, body, author_display, forum_posted_at,
	image_url, caption, pending_container_id, ig_media_id, ig_permalink,
	published_at, retry_count, last_error_code, last_error_message,
	carousel_group_id, carousel_position, worker_token, created_at, updated_at
`

func scanPost(row pgx.Row) (*entity.Post, error) {
	var p entity.Post
	var templateID, imageURL, caption, containerID *string
	var igMediaID, igPermalink, errCode, errMsg, groupID, workerToken *string
	var position *int

	err := row.Scan(
		&p.ID,
		&p.PublicID,
		&p.AccountID,
		&templateID,
		&p.ForumPostID,
		&p.PublishMode,
		&p.Status,
		&p.Priority,
		&p.Title,
		&p.Body,
		&p.AuthorDisplay,
		&p.ForumPostedAt,
		&imageURL,
		&caption,
		&containerID,
		&igMediaID,
		&igPermalink,
		&p.PublishedAt,
		&p.RetryCount,
		&errCode,
		&errMsg,
		&groupID,
		&position,
		&workerToken,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if templateID != nil {
		p.TemplateID = *templateID
	}
	if imageURL != nil {
		p.ImageURL = *imageURL
	}
	if caption != nil {
		p.Caption = *caption
	}
	if containerID != nil {
		p.PendingContainerID = *containerID
	}
	if igMediaID != nil {
		p.IGMediaID = *igMediaID
	}
	if igPermalink != nil {
		p.IGPermalink = *igPermalink
	}
	if errCode != nil {
		p.LastErrorCode = *errCode
	}
	if errMsg != nil {
		p.LastErrorMessage = *errMsg
	}
	if groupID != nil {
		p.CarouselGroupID = *groupID
	}
	if position != nil {
		p.CarouselPosition = *position
	}
	if workerToken != nil {
		p.WorkerToken = *workerToken
	}

	return &p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new post
func (r *PostPostgres) Create(ctx context.Context, p *entity.Post) error {
	query := `
		INSERT INTO ig_posts (
			id, public_id, account_id, template_id, forum_post_id, publish_mode,
			status, priority, title, body, author_display, forum_posted_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.PublicID,
		p.AccountID,
		nullable(p.TemplateID),
		p.ForumPostID,
		p.PublishMode,
		p.Status,
		p.Priority,
		p.Title,
		p.Body,
		p.AuthorDisplay,
		p.ForumPostedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}

	return nil
}

// GetByID retrieves a post by ID
func (r *PostPostgres) GetByID(ctx context.Context, id string) (*entity.Post, error) {
	query := `SELECT ` + postColumns + ` FROM ig_posts WHERE id = $1`

	p, err := scanPost(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}
	return p, nil
}

// GetByPublicID retrieves a post by its public identifier
func (r *PostPostgres) GetByPublicID(ctx context.Context, publicID string) (*entity.Post, error) {
	query := `SELECT ` + postColumns + ` FROM ig_posts WHERE public_id = $1`

	p, err := scanPost(r.pool.QueryRow(ctx, query, publicID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}
	return p, nil
}

func (r *PostPostgres) list(ctx context.Context, query string, args ...interface{}) ([]entity.Post, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var posts []entity.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		posts = append(posts, *p)
	}

	return posts, rows.Err()
}

// ListForRender retrieves pending posts, lowest priority value first, then
// oldest
func (r *PostPostgres) ListForRender(ctx context.Context, limit int) ([]entity.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM ig_posts
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// ListInstantReady retrieves rendered instant-mode posts awaiting publish
func (r *PostPostgres) ListInstantReady(ctx context.Context, limit int) ([]entity.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM ig_posts
		WHERE status = 'ready' AND publish_mode = 'instant'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// ListCarouselCandidates retrieves rendered ungrouped batch posts for an
// account, oldest first with id breaking created_at ties
func (r *PostPostgres) ListCarouselCandidates(ctx context.Context, accountID string, limit int) ([]entity.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM ig_posts
		WHERE status = 'ready' AND publish_mode = 'batch'
		  AND account_id = $1 AND carousel_group_id IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return r.list(ctx, query, accountID, limit)
}

// ListBatchBacklog reports accounts holding ungrouped rendered batch posts
func (r *PostPostgres) ListBatchBacklog(ctx context.Context) ([]BatchBacklog, error) {
	query := `
		SELECT account_id, COUNT(*)
		FROM ig_posts
		WHERE status = 'ready' AND publish_mode = 'batch' AND carousel_group_id IS NULL
		GROUP BY account_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying batch backlog: %w", err)
	}
	defer rows.Close()

	var backlog []BatchBacklog
	for rows.Next() {
		var b BatchBacklog
		if err := rows.Scan(&b.AccountID, &b.Ready); err != nil {
			return nil, fmt.Errorf("scanning backlog row: %w", err)
		}
		backlog = append(backlog, b)
	}

	return backlog, rows.Err()
}

// Reserve atomically moves a post into a working status.
// The WHERE clause on status makes concurrent reservation race-free.
func (r *PostPostgres) Reserve(ctx context.Context, id string, from, to entity.Status, workerToken string) (bool, error) {
	query := `
		UPDATE ig_posts
		SET status = $3, worker_token = $4, updated_at = $5
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from, to, workerToken, time.Now())
	if err != nil {
		return false, fmt.Errorf("reserving post: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Release moves a reserved post back without counting a retry
func (r *PostPostgres) Release(ctx context.Context, id string, from, to entity.Status) error {
	query := `
		UPDATE ig_posts
		SET status = $3, worker_token = NULL, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	_, err := r.pool.Exec(ctx, query, id, from, to, time.Now())
	if err != nil {
		return fmt.Errorf("releasing post: %w", err)
	}
	return nil
}

// SetRendered stores the render result and moves the post to ready
func (r *PostPostgres) SetRendered(ctx context.Context, id, imageURL, caption string) error {
	query := `
		UPDATE ig_posts
		SET status = 'ready', image_url = $2, caption = $3,
		    worker_token = NULL, updated_at = $4
		WHERE id = $1 AND status = 'rendering'
	`

	_, err := r.pool.Exec(ctx, query, id, imageURL, caption, time.Now())
	if err != nil {
		return fmt.Errorf("setting rendered: %w", err)
	}
	return nil
}

// SetPendingContainer persists a created container id for retry reuse
func (r *PostPostgres) SetPendingContainer(ctx context.Context, id, containerID string) error {
	query := `
		UPDATE ig_posts
		SET pending_container_id = $2, updated_at = $3
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, containerID, time.Now())
	if err != nil {
		return fmt.Errorf("setting pending container: %w", err)
	}
	return nil
}

// SetPublished records the publish result. The status guard keeps a racing
// terminal transition (an operator cancel, a reconciler decision) from being
// overwritten.
func (r *PostPostgres) SetPublished(ctx context.Context, id, igMediaID, permalink string, publishedAt time.Time) error {
	query := `
		UPDATE ig_posts
		SET status = 'published', ig_media_id = $2, ig_permalink = $3,
		    published_at = $4, pending_container_id = NULL,
		    worker_token = NULL, updated_at = $5
		WHERE id = $1 AND status = 'publishing'
	`

	_, err := r.pool.Exec(ctx, query, id, igMediaID, nullable(permalink), publishedAt, time.Now())
	if err != nil {
		return fmt.Errorf("setting published: %w", err)
	}
	return nil
}

// SetRecoveryNote records how the reconciler resolved a stranded post
// without touching its status
func (r *PostPostgres) SetRecoveryNote(ctx context.Context, id, errCode, errMsg string) error {
	query := `
		UPDATE ig_posts
		SET last_error_code = $2, last_error_message = $3, updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, errCode, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("setting recovery note: %w", err)
	}
	return nil
}

// SetFailed parks the post in failed with the final error
func (r *PostPostgres) SetFailed(ctx context.Context, id, errCode, errMsg string) error {
	query := `
		UPDATE ig_posts
		SET status = 'failed', last_error_code = $2, last_error_message = $3,
		    worker_token = NULL, updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, errCode, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("setting failed: %w", err)
	}
	return nil
}

// RequeueRender counts a retry and moves the post back to pending
func (r *PostPostgres) RequeueRender(ctx context.Context, id, errCode, errMsg string) error {
	return r.requeue(ctx, id, entity.StatusPending, errCode, errMsg)
}

// RequeuePublish counts a retry and moves the post back to ready
func (r *PostPostgres) RequeuePublish(ctx context.Context, id, errCode, errMsg string) error {
	return r.requeue(ctx, id, entity.StatusReady, errCode, errMsg)
}

func (r *PostPostgres) requeue(ctx context.Context, id string, to entity.Status, errCode, errMsg string) error {
	query := `
		UPDATE ig_posts
		SET status = $2, retry_count = retry_count + 1,
		    last_error_code = $3, last_error_message = $4,
		    worker_token = NULL, updated_at = $5
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, to, errCode, errMsg, time.Now())
	if err != nil {
		return fmt.Errorf("requeueing post: %w", err)
	}
	return nil
}

// AssignGroup attaches posts to a carousel group in display order
func (r *PostPostgres) AssignGroup(ctx context.Context, groupID string, postIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE ig_posts
		SET carousel_group_id = $2, carousel_position = $3, updated_at = $4
		WHERE id = $1 AND carousel_group_id IS NULL
	`

	now := time.Now()
	for i, id := range postIDs {
		tag, err := tx.Exec(ctx, query, id, groupID, i, now)
		if err != nil {
			return fmt.Errorf("assigning post to group: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("post %s already grouped: %w", id, entity.ErrAlreadyReserved)
		}
	}

	return tx.Commit(ctx)
}

// ClearGroup detaches all posts of a group
func (r *PostPostgres) ClearGroup(ctx context.Context, groupID string) error {
	query := `
		UPDATE ig_posts
		SET carousel_group_id = NULL, carousel_position = 0, updated_at = $2
		WHERE carousel_group_id = $1
	`

	_, err := r.pool.Exec(ctx, query, groupID, time.Now())
	if err != nil {
		return fmt.Errorf("clearing group: %w", err)
	}
	return nil
}

// ListByGroup retrieves the posts of a group ordered by carousel position
func (r *PostPostgres) ListByGroup(ctx context.Context, groupID string) ([]entity.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM ig_posts
		WHERE carousel_group_id = $1
		ORDER BY carousel_position ASC
	`
	return r.list(ctx, query, groupID)
}

// Stuck retrieves posts sitting in a working status since before the cutoff
func (r *PostPostgres) Stuck(ctx context.Context, before time.Time) ([]entity.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM ig_posts
		WHERE status IN ('rendering', 'publishing') AND updated_at < $1
		ORDER BY updated_at ASC
	`
	return r.list(ctx, query, before)
}

// Cancel moves a post to cancelled if it is still in the given status
func (r *PostPostgres) Cancel(ctx context.Context, id string, from entity.Status) (bool, error) {
	query := `
		UPDATE ig_posts
		SET status = 'cancelled', updated_at = $3
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from, time.Now())
	if err != nil {
		return false, fmt.Errorf("cancelling post: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetStatistics aggregates per-status counters for an account
func (r *PostPostgres) GetStatistics(ctx context.Context, accountID string) (*entity.Statistics, error) {
	query := `
		SELECT status, COUNT(*)
		FROM ig_posts
		WHERE account_id = $1
		GROUP BY status
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying statistics: %w", err)
	}
	defer rows.Close()

	stats := entity.Statistics{AccountID: accountID}
	for rows.Next() {
		var status entity.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning statistics row: %w", err)
		}

		switch status {
		case entity.StatusPending:
			stats.Pending = count
		case entity.StatusRendering:
			stats.Rendering = count
		case entity.StatusReady:
			stats.Ready = count
		case entity.StatusPublishing:
			stats.Publishing = count
		case entity.StatusPublished:
			stats.Published = count
		case entity.StatusFailed:
			stats.Failed = count
		case entity.StatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading statistics rows: %w", err)
	}

	carousels := `
		SELECT COUNT(*)
		FROM carousel_groups
		WHERE account_id = $1 AND status = 'completed'
	`
	if err := r.pool.QueryRow(ctx, carousels, accountID).Scan(&stats.CarouselsPublished); err != nil {
		return nil, fmt.Errorf("counting carousels: %w", err)
	}

	return &stats, nil
}
