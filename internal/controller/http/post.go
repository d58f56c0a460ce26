package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	accountentity "github.com/vadim/schoolboard/internal/domain/account/entity"
	"github.com/vadim/schoolboard/internal/domain/post/entity"
	"github.com/vadim/schoolboard/internal/domain/post/service"
	"github.com/vadim/schoolboard/internal/httpx/response"
)

// PostPolicy defines the interface for post operations
// Interface is defined by consumer (handler), not provider (policy)
type PostPolicy interface {
	Enqueue(ctx context.Context, in service.EnqueueInput) (*entity.Post, error)
	GetPost(ctx context.Context, publicID string) (*entity.Post, error)
	CancelPost(ctx context.Context, publicID string) (*entity.Post, error)
	Statistics(ctx context.Context, accountID string) (*entity.Statistics, error)
}

// PostHandler handles HTTP requests for queued posts
type PostHandler struct {
	policy PostPolicy
}

// NewPostHandler creates a new post handler
func NewPostHandler(p PostPolicy) *PostHandler {
	return &PostHandler{policy: p}
}

// RegisterRoutes registers post routes
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Route("/posts", func(r chi.Router) {
		r.Post("/", h.Enqueue())
		r.Get("/{public_id}", h.Get())
		r.Post("/{public_id}/cancel", h.Cancel())
	})
	r.Get("/statistics", h.Statistics())
}

// EnqueueRequest represents the request body for enqueuing a forum post
type EnqueueRequest struct {
	AccountID     string `json:"account_id"`
	TemplateID    string `json:"template_id,omitempty"`
	ForumPostID   string `json:"forum_post_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	AuthorDisplay string `json:"author_display,omitempty"`
	PublishMode   string `json:"publish_mode,omitempty"` // instant, batch
	Priority      int    `json:"priority,omitempty"`
	ForumPostedAt string `json:"forum_posted_at,omitempty"` // RFC3339 format
}

// Enqueue handles POST /posts
func (h *PostHandler) Enqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		if req.AccountID == "" {
			response.BadRequest(w, "account_id is required")
			return
		}
		if req.ForumPostID == "" {
			response.BadRequest(w, "forum_post_id is required")
			return
		}

		var mode entity.PublishMode
		if req.PublishMode != "" {
			m, err := parsePublishMode(req.PublishMode)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			mode = m
		}

		forumPostedAt := time.Now()
		if req.ForumPostedAt != "" {
			t, err := time.Parse(time.RFC3339, req.ForumPostedAt)
			if err != nil {
				response.BadRequest(w, "invalid forum_posted_at format, use RFC3339")
				return
			}
			forumPostedAt = t
		}

		post, err := h.policy.Enqueue(r.Context(), service.EnqueueInput{
			AccountID:     req.AccountID,
			TemplateID:    req.TemplateID,
			ForumPostID:   req.ForumPostID,
			Title:         req.Title,
			Body:          req.Body,
			AuthorDisplay: req.AuthorDisplay,
			PublishMode:   mode,
			Priority:      req.Priority,
			ForumPostedAt: forumPostedAt,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.Created(w, post)
	}
}

// Get handles GET /posts/{public_id}
func (h *PostHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		publicID := chi.URLParam(r, "public_id")

		post, err := h.policy.GetPost(r.Context(), publicID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// Cancel handles POST /posts/{public_id}/cancel
func (h *PostHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		publicID := chi.URLParam(r, "public_id")

		post, err := h.policy.CancelPost(r.Context(), publicID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, post)
	}
}

// Statistics handles GET /statistics
func (h *PostHandler) Statistics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account_id")

		stats, err := h.policy.Statistics(r.Context(), accountID)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		response.OK(w, stats)
	}
}

func parsePublishMode(s string) (entity.PublishMode, error) {
	switch s {
	case "instant":
		return entity.PublishModeInstant, nil
	case "batch":
		return entity.PublishModeBatch, nil
	default:
		return "", entity.ErrInvalidPublishMode
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrPostNotFound),
		errors.Is(err, entity.ErrGroupNotFound),
		errors.Is(err, accountentity.ErrAccountNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, accountentity.ErrAccountInactive):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrPostNotCancellable), errors.Is(err, entity.ErrAlreadyReserved):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrEmptyAccountID),
		errors.Is(err, entity.ErrEmptyForumPostID),
		errors.Is(err, entity.ErrEmptyContent),
		errors.Is(err, entity.ErrInvalidPublishMode):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
