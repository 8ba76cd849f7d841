package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamloop/streamloop/internal/models"
)

// templateRepo implements TemplateRepository using GORM.
type templateRepo struct {
	db *gorm.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *gorm.DB) *templateRepo {
	return &templateRepo{db: db}
}

// Create creates a new broadcast template.
func (r *templateRepo) Create(ctx context.Context, tmpl *models.BroadcastTemplate) error {
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return fmt.Errorf("creating broadcast template: %w", err)
	}
	return nil
}

// GetByID retrieves a broadcast template by ID.
func (r *templateRepo) GetByID(ctx context.Context, id models.ULID) (*models.BroadcastTemplate, error) {
	var tmpl models.BroadcastTemplate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tmpl).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting broadcast template by ID: %w", err)
	}
	return &tmpl, nil
}

var _ TemplateRepository = (*templateRepo)(nil)
