package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/schoolboard/internal/domain/account/entity"
	"github.com/vadim/schoolboard/internal/httpx/response"
)

// AccountService defines the interface for account operations
type AccountService interface {
	Get(ctx context.Context, id string) (*entity.Account, error)
	ListActive(ctx context.Context) ([]entity.Account, error)
	ClearDegraded(ctx context.Context, id string) error
}

// AccountHandler handles HTTP requests for Instagram accounts
type AccountHandler struct {
	service AccountService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(s AccountService) *AccountHandler {
	return &AccountHandler{service: s}
}

// RegisterRoutes registers account routes
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.List())
		r.Get("/{id}", h.Get())
		r.Post("/{id}/restore", h.Restore())
	})
}

// List handles GET /accounts
func (h *AccountHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := h.service.ListActive(r.Context())
		if err != nil {
			response.InternalError(w, "failed to list accounts")
			return
		}

		response.OK(w, map[string]interface{}{
			"accounts": accounts,
			"total":    len(accounts),
		})
	}
}

// Get handles GET /accounts/{id}
func (h *AccountHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		account, err := h.service.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, entity.ErrAccountNotFound) {
				response.NotFound(w, err.Error())
				return
			}
			response.InternalError(w, "failed to get account")
			return
		}

		response.OK(w, account)
	}
}

// Restore handles POST /accounts/{id}/restore. Clears the degraded flag
// after an operator has fixed the account's token.
func (h *AccountHandler) Restore() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := h.service.Get(r.Context(), id); err != nil {
			if errors.Is(err, entity.ErrAccountNotFound) {
				response.NotFound(w, err.Error())
				return
			}
			response.InternalError(w, "failed to get account")
			return
		}

		if err := h.service.ClearDegraded(r.Context(), id); err != nil {
			response.InternalError(w, "failed to restore account")
			return
		}

		response.NoContent(w)
	}
}
