package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/schoolboard/internal/domain/account/entity"
	"github.com/vadim/schoolboard/internal/httpx/upstream/instagram"
	"github.com/vadim/schoolboard/internal/vault"
)

type fakeRepo struct {
	accounts map[string]*entity.Account
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{accounts: make(map[string]*entity.Account)}
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*entity.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListActive(context.Context) ([]entity.Account, error) {
	var out []entity.Account
	for _, a := range r.accounts {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListExpiringTokens(_ context.Context, before time.Time) ([]entity.Account, error) {
	var out []entity.Account
	for _, a := range r.accounts {
		if a.IsActive && a.TokenExpiresAt.Before(before) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateToken(_ context.Context, id, encryptedToken string, expiresAt time.Time) error {
	a, ok := r.accounts[id]
	if !ok {
		return errors.New("no such account")
	}
	a.EncryptedToken = encryptedToken
	a.TokenExpiresAt = expiresAt
	a.Degraded = false
	a.DegradedReason = ""
	return nil
}

func (r *fakeRepo) SetDegraded(_ context.Context, id string, degraded bool, reason string) error {
	a, ok := r.accounts[id]
	if !ok {
		return errors.New("no such account")
	}
	a.Degraded = degraded
	a.DegradedReason = reason
	return nil
}

type fakeGraph struct {
	err      error
	fresh    string
	requests []string
}

func (g *fakeGraph) RefreshToken(_ context.Context, accessToken, _ string) (*instagram.RefreshLongLivedTokenOutput, error) {
	g.requests = append(g.requests, accessToken)
	if g.err != nil {
		return nil, g.err
	}
	return &instagram.RefreshLongLivedTokenOutput{
		AccessToken: g.fresh,
		TokenType:   "bearer",
		ExpiresIn:   5184000,
	}, nil
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("test-encryption-key")
	require.NoError(t, err)
	return v
}

func seedAccount(t *testing.T, repo *fakeRepo, v *vault.Vault, id, token string, expiresAt time.Time) {
	t.Helper()
	encrypted, err := v.Encrypt(token)
	require.NoError(t, err)
	repo.accounts[id] = &entity.Account{
		ID:             id,
		Handle:         "northside",
		IGUserID:       "ig-" + id,
		EncryptedToken: encrypted,
		TokenExpiresAt: expiresAt,
		PublishMode:    entity.PublishModeInstant,
		BatchThreshold: 3,
		IsActive:       true,
	}
}

func TestCredentialsDecryptsToken(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	seedAccount(t, repo, v, "acc-1", "secret-token", time.Now().Add(30*24*time.Hour))

	s := NewService(repo, v, &fakeGraph{}, slog.New(slog.DiscardHandler))

	account, token, err := s.Credentials(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
	assert.Equal(t, "ig-acc-1", account.IGUserID)
}

func TestCredentialsInactiveAccount(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	seedAccount(t, repo, v, "acc-1", "secret-token", time.Now().Add(time.Hour))
	repo.accounts["acc-1"].IsActive = false

	s := NewService(repo, v, &fakeGraph{}, slog.New(slog.DiscardHandler))

	_, _, err := s.Credentials(context.Background(), "acc-1")
	assert.ErrorIs(t, err, entity.ErrAccountInactive)
}

func TestCredentialsUnknownAccount(t *testing.T) {
	s := NewService(newFakeRepo(), testVault(t), &fakeGraph{}, slog.New(slog.DiscardHandler))

	_, _, err := s.Credentials(context.Background(), "nope")
	assert.ErrorIs(t, err, entity.ErrAccountNotFound)
}

func TestRefreshExpiringTokens(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	now := time.Date(2025, 6, 1, 4, 10, 0, 0, time.UTC)

	// Expires in 5 days: inside the horizon
	seedAccount(t, repo, v, "soon", "old-token", now.Add(5*24*time.Hour))
	// Expires in 40 days: left alone
	seedAccount(t, repo, v, "later", "good-token", now.Add(40*24*time.Hour))

	graph := &fakeGraph{fresh: "new-token"}
	s := NewService(repo, v, graph, slog.New(slog.DiscardHandler))
	s.now = func() time.Time { return now }

	require.NoError(t, s.RefreshExpiringTokens(context.Background()))

	require.Equal(t, []string{"old-token"}, graph.requests)

	decrypted, err := v.Decrypt(repo.accounts["soon"].EncryptedToken)
	require.NoError(t, err)
	assert.Equal(t, "new-token", decrypted)
	assert.Equal(t, now.Add(5184000*time.Second), repo.accounts["soon"].TokenExpiresAt)
}

func TestRefreshClearsDegradedFlag(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	now := time.Now()
	seedAccount(t, repo, v, "acc-1", "old-token", now.Add(24*time.Hour))
	repo.accounts["acc-1"].Degraded = true
	repo.accounts["acc-1"].DegradedReason = "token_rejected"

	s := NewService(repo, v, &fakeGraph{fresh: "new-token"}, slog.New(slog.DiscardHandler))

	require.NoError(t, s.RefreshExpiringTokens(context.Background()))
	assert.False(t, repo.accounts["acc-1"].Degraded)
	assert.Empty(t, repo.accounts["acc-1"].DegradedReason)
}

func TestRefreshAuthFailureDegradesAccount(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	now := time.Now()
	seedAccount(t, repo, v, "acc-1", "revoked-token", now.Add(24*time.Hour))

	graph := &fakeGraph{err: &instagram.APIError{
		Message:    "Error validating access token",
		Code:       190,
		HTTPStatus: http.StatusUnauthorized,
		Kind:       instagram.KindAuth,
	}}
	s := NewService(repo, v, graph, slog.New(slog.DiscardHandler))

	err := s.RefreshExpiringTokens(context.Background())
	assert.Error(t, err)
	assert.True(t, repo.accounts["acc-1"].Degraded)
	assert.Equal(t, "token_rejected", repo.accounts["acc-1"].DegradedReason)
}

func TestRefreshTransientFailureKeepsToken(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	now := time.Now()
	seedAccount(t, repo, v, "acc-1", "old-token", now.Add(24*time.Hour))
	before := repo.accounts["acc-1"].EncryptedToken

	graph := &fakeGraph{err: &instagram.APIError{
		Message:    "service unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Kind:       instagram.KindTransient,
	}}
	s := NewService(repo, v, graph, slog.New(slog.DiscardHandler))

	err := s.RefreshExpiringTokens(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before, repo.accounts["acc-1"].EncryptedToken)
	assert.False(t, repo.accounts["acc-1"].Degraded)
}

func TestMarkAndClearDegraded(t *testing.T) {
	repo := newFakeRepo()
	v := testVault(t)
	seedAccount(t, repo, v, "acc-1", "tok", time.Now().Add(time.Hour))

	s := NewService(repo, v, &fakeGraph{}, slog.New(slog.DiscardHandler))

	require.NoError(t, s.MarkDegraded(context.Background(), "acc-1", "graph_auth"))
	assert.True(t, repo.accounts["acc-1"].Degraded)

	require.NoError(t, s.ClearDegraded(context.Background(), "acc-1"))
	assert.False(t, repo.accounts["acc-1"].Degraded)
}
