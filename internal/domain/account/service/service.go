package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vadim/schoolboard/internal/domain/account/dao"
	"github.com/vadim/schoolboard/internal/domain/account/entity"
	"github.com/vadim/schoolboard/internal/httpx/upstream/instagram"
	"github.com/vadim/schoolboard/internal/vault"
)

// Tokens expiring within this horizon get refreshed by the daily pass.
// Long-lived tokens live 60 days, so 10 days leaves plenty of retries.
const refreshHorizon = 10 * 24 * time.Hour

const reasonTokenRejected = "token_rejected"

// TokenRefreshClient exchanges a long-lived token for a fresh one
type TokenRefreshClient interface {
	RefreshToken(ctx context.Context, accessToken, correlationID string) (*instagram.RefreshLongLivedTokenOutput, error)
}

// Service implements account business logic
type Service struct {
	accounts dao.AccountRepository
	vault    *vault.Vault
	graph    TokenRefreshClient
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new account service
func NewService(accounts dao.AccountRepository, v *vault.Vault, graph TokenRefreshClient, logger *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		vault:    v,
		graph:    graph,
		logger:   logger,
		now:      time.Now,
	}
}

// Get retrieves an account by ID
func (s *Service) Get(ctx context.Context, id string) (*entity.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}
	if account == nil {
		return nil, entity.ErrAccountNotFound
	}
	return account, nil
}

// Credentials returns the account together with its decrypted access
// token. The plaintext token never leaves memory.
func (s *Service) Credentials(ctx context.Context, id string) (*entity.Account, string, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !account.IsActive {
		return nil, "", entity.ErrAccountInactive
	}

	token, err := s.vault.Decrypt(account.EncryptedToken)
	if err != nil {
		return nil, "", fmt.Errorf("decrypting token for account %s: %w", id, err)
	}
	return account, token, nil
}

// MarkDegraded flags an account so publishing skips it until the token
// is fixed
func (s *Service) MarkDegraded(ctx context.Context, id, reason string) error {
	if err := s.accounts.SetDegraded(ctx, id, true, reason); err != nil {
		return fmt.Errorf("marking account degraded: %w", err)
	}
	s.logger.Warn("account degraded", "account_id", id, "reason", reason)
	return nil
}

// ClearDegraded restores an account to the publishing rotation
func (s *Service) ClearDegraded(ctx context.Context, id string) error {
	if err := s.accounts.SetDegraded(ctx, id, false, ""); err != nil {
		return fmt.Errorf("clearing degraded flag: %w", err)
	}
	return nil
}

// ListActive retrieves all active accounts
func (s *Service) ListActive(ctx context.Context) ([]entity.Account, error) {
	return s.accounts.ListActive(ctx)
}

// RefreshExpiringTokens renews tokens approaching expiry. A failure on
// one account does not stop the pass.
func (s *Service) RefreshExpiringTokens(ctx context.Context) error {
	now := s.now()
	expiring, err := s.accounts.ListExpiringTokens(ctx, now.Add(refreshHorizon))
	if err != nil {
		return fmt.Errorf("listing expiring tokens: %w", err)
	}

	var failed int
	for _, account := range expiring {
		if err := s.refreshToken(ctx, &account, now); err != nil {
			failed++
			s.logger.Error("token refresh failed",
				"account_id", account.ID,
				"handle", account.Handle,
				"error", err,
			)
		}
	}

	s.logger.Info("token refresh pass finished",
		"candidates", len(expiring),
		"failed", failed,
	)
	if failed > 0 {
		return fmt.Errorf("token refresh: %d of %d accounts failed", failed, len(expiring))
	}
	return nil
}

func (s *Service) refreshToken(ctx context.Context, account *entity.Account, now time.Time) error {
	token, err := s.vault.Decrypt(account.EncryptedToken)
	if err != nil {
		return fmt.Errorf("decrypting token: %w", err)
	}

	out, err := s.graph.RefreshToken(ctx, token, "token-refresh/"+account.Handle)
	if err != nil {
		if instagram.ErrorKind(err) == instagram.KindAuth {
			if derr := s.accounts.SetDegraded(ctx, account.ID, true, reasonTokenRejected); derr != nil {
				s.logger.Error("failed to degrade account", "account_id", account.ID, "error", derr)
			}
		}
		return fmt.Errorf("exchanging token: %w", err)
	}

	encrypted, err := s.vault.Encrypt(out.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypting token: %w", err)
	}

	expiresAt := now.Add(time.Duration(out.ExpiresIn) * time.Second)
	if err := s.accounts.UpdateToken(ctx, account.ID, encrypted, expiresAt); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}

	s.logger.Info("token refreshed",
		"account_id", account.ID,
		"handle", account.Handle,
		"expires_at", expiresAt,
	)
	return nil
}
