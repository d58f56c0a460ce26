package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/schoolboard/internal/domain/account/entity"
)

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	// GetByID retrieves an account by ID
	GetByID(ctx context.Context, id string) (*entity.Account, error)

	// ListActive retrieves all active accounts
	ListActive(ctx context.Context) ([]entity.Account, error)

	// ListExpiringTokens retrieves active accounts whose token expires
	// before the cutoff
	ListExpiringTokens(ctx context.Context, before time.Time) ([]entity.Account, error)

	// UpdateToken stores a freshly encrypted token and its expiry
	UpdateToken(ctx context.Context, id, encryptedToken string, expiresAt time.Time) error

	// SetDegraded flips the degraded flag
	SetDegraded(ctx context.Context, id string, degraded bool, reason string) error
}

// AccountPostgres implements AccountRepository for PostgreSQL
type AccountPostgres struct {
	pool *pgxpool.Pool
}

// NewAccountPostgres creates a new PostgreSQL account repository
func NewAccountPostgres(pool *pgxpool.Pool) *AccountPostgres {
	return &AccountPostgres{pool: pool}
}

const accountColumns = `
	id, handle, ig_user_id, school_id, school_name, logo_url,
	encrypted_token, token_expires_at, publish_mode, batch_threshold,
	hashtags, default_template_id, is_active, degraded, degraded_reason,
	created_at, updated_at
`

func scanAccount(row pgx.Row) (*entity.Account, error) {
	var a entity.Account
	var logoURL, templateID, degradedReason *string

	err := row.Scan(
		&a.ID,
		&a.Handle,
		&a.IGUserID,
		&a.SchoolID,
		&a.SchoolName,
		&logoURL,
		&a.EncryptedToken,
		&a.TokenExpiresAt,
		&a.PublishMode,
		&a.BatchThreshold,
		&a.Hashtags,
		&templateID,
		&a.IsActive,
		&a.Degraded,
		&degradedReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if logoURL != nil {
		a.LogoURL = *logoURL
	}
	if templateID != nil {
		a.DefaultTemplateID = *templateID
	}
	if degradedReason != nil {
		a.DegradedReason = *degradedReason
	}

	return &a, nil
}

// GetByID retrieves an account by ID
func (r *AccountPostgres) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ig_accounts WHERE id = $1`

	a, err := scanAccount(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return a, nil
}

func (r *AccountPostgres) listAccounts(ctx context.Context, query string, args ...interface{}) ([]entity.Account, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []entity.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		accounts = append(accounts, *a)
	}

	return accounts, rows.Err()
}

// ListActive retrieves all active accounts
func (r *AccountPostgres) ListActive(ctx context.Context) ([]entity.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM ig_accounts WHERE is_active ORDER BY handle`
	return r.listAccounts(ctx, query)
}

// ListExpiringTokens retrieves active accounts whose token expires before
// the cutoff
func (r *AccountPostgres) ListExpiringTokens(ctx context.Context, before time.Time) ([]entity.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM ig_accounts
		WHERE is_active AND token_expires_at < $1
		ORDER BY token_expires_at ASC
	`
	return r.listAccounts(ctx, query, before)
}

// UpdateToken stores a freshly encrypted token and its expiry
func (r *AccountPostgres) UpdateToken(ctx context.Context, id, encryptedToken string, expiresAt time.Time) error {
	query := `
		UPDATE ig_accounts
		SET encrypted_token = $2, token_expires_at = $3,
		    degraded = FALSE, degraded_reason = NULL, updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, encryptedToken, expiresAt, time.Now())
	if err != nil {
		return fmt.Errorf("updating token: %w", err)
	}
	return nil
}

// SetDegraded flips the degraded flag
func (r *AccountPostgres) SetDegraded(ctx context.Context, id string, degraded bool, reason string) error {
	query := `
		UPDATE ig_accounts
		SET degraded = $2, degraded_reason = $3, updated_at = $4
		WHERE id = $1
	`

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	_, err := r.pool.Exec(ctx, query, id, degraded, reasonPtr, time.Now())
	if err != nil {
		return fmt.Errorf("setting degraded: %w", err)
	}
	return nil
}
