package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/streamloop/streamloop/internal/models"
)

// credentialRepo implements CredentialRepository using GORM.
type credentialRepo struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *gorm.DB) *credentialRepo {
	return &credentialRepo{db: db}
}

// Create creates a new provider credential.
func (r *credentialRepo) Create(ctx context.Context, cred *models.ProviderCredential) error {
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("creating credential: %w", err)
	}
	return nil
}

// GetByUser retrieves the credential for a user.
func (r *credentialRepo) GetByUser(ctx context.Context, userID models.ULID) (*models.ProviderCredential, error) {
	var cred models.ProviderCredential
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cred).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting credential by user: %w", err)
	}
	return &cred, nil
}

// UpdateAccessToken persists a freshly minted access token.
func (r *credentialRepo) UpdateAccessToken(ctx context.Context, id models.ULID, token string, expiry time.Time) error {
	updates := map[string]any{
		"access_token":        token,
		"access_token_expiry": expiry,
	}
	if err := r.db.WithContext(ctx).Model(&models.ProviderCredential{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("updating access token: %w", err)
	}
	return nil
}

var _ CredentialRepository = (*credentialRepo)(nil)
