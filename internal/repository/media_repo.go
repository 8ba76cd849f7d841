package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamloop/streamloop/internal/models"
)

// mediaFileRepo implements MediaFileRepository using GORM.
type mediaFileRepo struct {
	db *gorm.DB
}

// NewMediaFileRepository creates a new MediaFileRepository.
func NewMediaFileRepository(db *gorm.DB) *mediaFileRepo {
	return &mediaFileRepo{db: db}
}

// Create creates a new media file record.
func (r *mediaFileRepo) Create(ctx context.Context, media *models.MediaFile) error {
	if err := r.db.WithContext(ctx).Create(media).Error; err != nil {
		return fmt.Errorf("creating media file: %w", err)
	}
	return nil
}

// GetByID retrieves a media file by ID.
func (r *mediaFileRepo) GetByID(ctx context.Context, id models.ULID) (*models.MediaFile, error) {
	var media models.MediaFile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&media).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting media file by ID: %w", err)
	}
	return &media, nil
}

// GetByUser retrieves all media files owned by a user.
func (r *mediaFileRepo) GetByUser(ctx context.Context, userID models.ULID) ([]*models.MediaFile, error) {
	var media []*models.MediaFile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name ASC").Find(&media).Error; err != nil {
		return nil, fmt.Errorf("getting media files by user: %w", err)
	}
	return media, nil
}

var _ MediaFileRepository = (*mediaFileRepo)(nil)
