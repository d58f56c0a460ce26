package service

import (
	"context"
	"fmt"

	"github.com/vadim/schoolboard/internal/domain/template/entity"
	"github.com/vadim/schoolboard/internal/render"
)

// TemplateRepository defines the interface for template storage
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *entity.Template) error
	GetByID(ctx context.Context, id string) (*entity.Template, error)
	Update(ctx context.Context, tmpl *entity.Template) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, accountID string) ([]entity.Template, error)
	CountReferences(ctx context.Context, id string) (int64, error)
	IncrementUsageCount(ctx context.Context, id string) error
}

// Service handles template business logic
type Service struct {
	repo TemplateRepository
}

// New creates a new template service
func New(repo TemplateRepository) *Service {
	return &Service{repo: repo}
}

// CreateInput represents input for creating a template
type CreateInput struct {
	AccountID string
	Name      string
	Config    map[string]any
}

// Create creates a new template. The config bag is checked strictly, so
// a typoed key is rejected instead of silently ignored.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Template, error) {
	tmpl := &entity.Template{
		AccountID: in.AccountID,
		Name:      in.Name,
		Config:    in.Config,
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	if _, err := render.ParseConfig(in.Config, true); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("creating template: %w", err)
	}

	return tmpl, nil
}

// GetByID retrieves a template by ID
func (s *Service) GetByID(ctx context.Context, id string) (*entity.Template, error) {
	tmpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	if tmpl == nil {
		return nil, entity.ErrTemplateNotFound
	}
	return tmpl, nil
}

// RenderConfig resolves a template into the renderer's normalized config.
// Unknown keys written by older versions are ignored here so stored
// templates keep rendering across schema changes. An empty template ID
// yields the renderer defaults.
func (s *Service) RenderConfig(ctx context.Context, id string) (render.Config, error) {
	if id == "" {
		return render.DefaultConfig(), nil
	}

	tmpl, err := s.GetByID(ctx, id)
	if err != nil {
		return render.Config{}, err
	}

	cfg, err := render.ParseConfig(tmpl.Config, false)
	if err != nil {
		return render.Config{}, fmt.Errorf("template %s: %w", id, err)
	}
	return cfg, nil
}

// UpdateInput represents input for updating a template
type UpdateInput struct {
	ID        string
	AccountID string
	Name      *string
	Config    map[string]any
}

// Update updates an existing template
func (s *Service) Update(ctx context.Context, in UpdateInput) (*entity.Template, error) {
	tmpl, err := s.repo.GetByID(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	if tmpl == nil {
		return nil, entity.ErrTemplateNotFound
	}

	// Check ownership
	if tmpl.AccountID != in.AccountID {
		return nil, entity.ErrTemplateNotFound
	}

	if in.Name != nil {
		tmpl.Name = *in.Name
	}
	if in.Config != nil {
		tmpl.Config = in.Config
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	if _, err := render.ParseConfig(tmpl.Config, true); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("updating template: %w", err)
	}

	return tmpl, nil
}

// Delete removes a template. Templates still referenced by queued posts
// or set as an account default are refused.
func (s *Service) Delete(ctx context.Context, id, accountID string) error {
	tmpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("getting template: %w", err)
	}
	if tmpl == nil {
		return entity.ErrTemplateNotFound
	}

	// Check ownership
	if tmpl.AccountID != accountID {
		return entity.ErrTemplateNotFound
	}

	refs, err := s.repo.CountReferences(ctx, id)
	if err != nil {
		return fmt.Errorf("checking template references: %w", err)
	}
	if refs > 0 {
		return entity.ErrTemplateInUse
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}

	return nil
}

// List retrieves templates for an account
func (s *Service) List(ctx context.Context, accountID string) ([]entity.Template, error) {
	templates, err := s.repo.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return templates, nil
}

// IncrementUsage increments the usage count of a template
func (s *Service) IncrementUsage(ctx context.Context, id string) error {
	if err := s.repo.IncrementUsageCount(ctx, id); err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	return nil
}
