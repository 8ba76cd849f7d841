package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamloop/streamloop/internal/models"
)

// userRepo implements UserRepository using GORM.
type userRepo struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *userRepo {
	return &userRepo{db: db}
}

// Create creates a new user.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepo) GetByID(ctx context.Context, id models.ULID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user by ID: %w", err)
	}
	return &user, nil
}

var _ UserRepository = (*userRepo)(nil)
