package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streamloop/streamloop/internal/models"
)

// rotationIndexRepo implements RotationIndexRepository using GORM.
type rotationIndexRepo struct {
	db *gorm.DB
}

// NewRotationIndexRepository creates a new RotationIndexRepository.
func NewRotationIndexRepository(db *gorm.DB) *rotationIndexRepo {
	return &rotationIndexRepo{db: db}
}

// Get returns the current next index for (user, folder), zero if no counter
// exists yet.
func (r *rotationIndexRepo) Get(ctx context.Context, userID models.ULID, folder string) (int, error) {
	var idx models.RotationIndex
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND folder = ?", userID, folder).
		First(&idx).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("getting rotation index: %w", err)
	}
	return idx.NextIndex, nil
}

// Advance atomically consumes the current index for (user, folder).
// The row is locked for the duration of the transaction so two concurrent
// broadcast creations can never draw the same index.
func (r *rotationIndexRepo) Advance(ctx context.Context, userID models.ULID, folder string) (int, error) {
	var consumed int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var idx models.RotationIndex
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND folder = ?", userID, folder).
			First(&idx).Error
		switch err {
		case nil:
		case gorm.ErrRecordNotFound:
			idx = models.RotationIndex{UserID: userID, Folder: folder, NextIndex: 0}
			if err := tx.Create(&idx).Error; err != nil {
				return fmt.Errorf("creating rotation index: %w", err)
			}
		default:
			return fmt.Errorf("locking rotation index: %w", err)
		}

		consumed = idx.NextIndex
		if err := tx.Model(&idx).Update("next_index", idx.NextIndex+1).Error; err != nil {
			return fmt.Errorf("advancing rotation index: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return consumed, nil
}

var _ RotationIndexRepository = (*rotationIndexRepo)(nil)
