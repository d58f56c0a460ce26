package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/schoolboard/internal/domain/template/entity"
	"github.com/vadim/schoolboard/internal/domain/template/service"
	"github.com/vadim/schoolboard/internal/httpx/response"
	"github.com/vadim/schoolboard/internal/render"
)

// TemplateService defines the interface for template operations
type TemplateService interface {
	Create(ctx context.Context, in service.CreateInput) (*entity.Template, error)
	GetByID(ctx context.Context, id string) (*entity.Template, error)
	Update(ctx context.Context, in service.UpdateInput) (*entity.Template, error)
	Delete(ctx context.Context, id, accountID string) error
	List(ctx context.Context, accountID string) ([]entity.Template, error)
}

// TemplateHandler handles HTTP requests for card templates
type TemplateHandler struct {
	service TemplateService
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(s TemplateService) *TemplateHandler {
	return &TemplateHandler{service: s}
}

// RegisterRoutes registers template routes
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.List())
		r.Post("/", h.Create())
		r.Get("/{templateId}", h.GetByID())
		r.Put("/{templateId}", h.Update())
		r.Delete("/{templateId}", h.Delete())
	})
}

// CreateTemplateRequest represents the request body for creating a template
type CreateTemplateRequest struct {
	AccountID string         `json:"account_id"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config"`
}

// Create handles POST /templates
func (h *TemplateHandler) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		if req.AccountID == "" {
			response.BadRequest(w, "account_id is required")
			return
		}
		if req.Config == nil {
			req.Config = map[string]any{}
		}

		tmpl, err := h.service.Create(r.Context(), service.CreateInput{
			AccountID: req.AccountID,
			Name:      req.Name,
			Config:    req.Config,
		})
		if err != nil {
			handleTemplateError(w, err)
			return
		}

		response.Created(w, tmpl)
	}
}

// GetByID handles GET /templates/{templateId}
func (h *TemplateHandler) GetByID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID := chi.URLParam(r, "templateId")

		tmpl, err := h.service.GetByID(r.Context(), templateID)
		if err != nil {
			handleTemplateError(w, err)
			return
		}

		response.OK(w, tmpl)
	}
}

// UpdateTemplateRequest represents the request body for updating a template
type UpdateTemplateRequest struct {
	AccountID string         `json:"account_id"`
	Name      *string        `json:"name,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// Update handles PUT /templates/{templateId}
func (h *TemplateHandler) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID := chi.URLParam(r, "templateId")

		var req UpdateTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		if req.AccountID == "" {
			response.BadRequest(w, "account_id is required")
			return
		}

		tmpl, err := h.service.Update(r.Context(), service.UpdateInput{
			ID:        templateID,
			AccountID: req.AccountID,
			Name:      req.Name,
			Config:    req.Config,
		})
		if err != nil {
			handleTemplateError(w, err)
			return
		}

		response.OK(w, tmpl)
	}
}

// Delete handles DELETE /templates/{templateId}
func (h *TemplateHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID := chi.URLParam(r, "templateId")
		accountID := r.URL.Query().Get("account_id")

		if accountID == "" {
			response.BadRequest(w, "account_id is required")
			return
		}

		err := h.service.Delete(r.Context(), templateID, accountID)
		if err != nil {
			handleTemplateError(w, err)
			return
		}

		response.NoContent(w)
	}
}

// ListTemplatesResponse represents the response for listing templates
type ListTemplatesResponse struct {
	Templates []entity.Template `json:"templates"`
	Total     int               `json:"total"`
}

// List handles GET /templates
func (h *TemplateHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			response.BadRequest(w, "account_id is required")
			return
		}

		templates, err := h.service.List(r.Context(), accountID)
		if err != nil {
			handleTemplateError(w, err)
			return
		}

		response.OK(w, ListTemplatesResponse{
			Templates: templates,
			Total:     len(templates),
		})
	}
}

func handleTemplateError(w http.ResponseWriter, err error) {
	var cfgErr *render.ConfigError
	switch {
	case errors.Is(err, entity.ErrTemplateNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrTemplateInUse):
		response.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrEmptyName), errors.Is(err, entity.ErrNameTooLong):
		response.BadRequest(w, err.Error())
	case errors.As(err, &cfgErr):
		response.BadRequest(w, cfgErr.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
