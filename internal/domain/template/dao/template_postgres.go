package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/schoolboard/internal/domain/template/entity"
)

// TemplatePostgres implements template repository for PostgreSQL.
// Config round-trips through a jsonb column.
type TemplatePostgres struct {
	pool *pgxpool.Pool
}

// NewTemplatePostgres creates a new PostgreSQL template repository
func NewTemplatePostgres(pool *pgxpool.Pool) *TemplatePostgres {
	return &TemplatePostgres{pool: pool}
}

// Create inserts a new template
func (r *TemplatePostgres) Create(ctx context.Context, tmpl *entity.Template) error {
	query := `
		INSERT INTO card_templates (id, account_id, name, config, usage_count, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, 0, $4, $4)
		RETURNING id, created_at, updated_at
	`

	now := time.Now()
	err := r.pool.QueryRow(ctx, query,
		tmpl.AccountID,
		tmpl.Name,
		tmpl.Config,
		now,
	).Scan(&tmpl.ID, &tmpl.CreatedAt, &tmpl.UpdatedAt)

	if err != nil {
		return fmt.Errorf("creating template: %w", err)
	}

	return nil
}

// GetByID retrieves a template by ID
func (r *TemplatePostgres) GetByID(ctx context.Context, id string) (*entity.Template, error) {
	query := `
		SELECT id, account_id, name, config, usage_count, created_at, updated_at
		FROM card_templates
		WHERE id = $1
	`

	var tmpl entity.Template
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&tmpl.ID,
		&tmpl.AccountID,
		&tmpl.Name,
		&tmpl.Config,
		&tmpl.UsageCount,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}

	return &tmpl, nil
}

// Update updates an existing template
func (r *TemplatePostgres) Update(ctx context.Context, tmpl *entity.Template) error {
	query := `
		UPDATE card_templates
		SET name = $2, config = $3, updated_at = $4
		WHERE id = $1
	`

	now := time.Now()
	result, err := r.pool.Exec(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Config,
		now,
	)
	if err != nil {
		return fmt.Errorf("updating template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return entity.ErrTemplateNotFound
	}

	tmpl.UpdatedAt = now
	return nil
}

// Delete removes a template
func (r *TemplatePostgres) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM card_templates WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return entity.ErrTemplateNotFound
	}

	return nil
}

// List retrieves templates for an account, most used first
func (r *TemplatePostgres) List(ctx context.Context, accountID string) ([]entity.Template, error) {
	query := `
		SELECT id, account_id, name, config, usage_count, created_at, updated_at
		FROM card_templates
		WHERE account_id = $1
		ORDER BY usage_count DESC, name ASC
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var templates []entity.Template
	for rows.Next() {
		var tmpl entity.Template
		err := rows.Scan(
			&tmpl.ID,
			&tmpl.AccountID,
			&tmpl.Name,
			&tmpl.Config,
			&tmpl.UsageCount,
			&tmpl.CreatedAt,
			&tmpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, tmpl)
	}

	return templates, rows.Err()
}

// CountReferences counts live usages of a template: queued posts that
// still need rendering plus accounts that use it as their default
func (r *TemplatePostgres) CountReferences(ctx context.Context, id string) (int64, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM ig_posts
			 WHERE template_id = $1
			 AND status IN ('pending', 'rendering')) +
			(SELECT COUNT(*) FROM ig_accounts
			 WHERE default_template_id = $1)
	`

	var count int64
	if err := r.pool.QueryRow(ctx, query, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting template references: %w", err)
	}

	return count, nil
}

// IncrementUsageCount increments the usage count of a template
func (r *TemplatePostgres) IncrementUsageCount(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE card_templates SET usage_count = usage_count + 1, updated_at = $2 WHERE id = $1",
		id, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("incrementing usage count: %w", err)
	}

	if result.RowsAffected() == 0 {
		return entity.ErrTemplateNotFound
	}

	return nil
}
