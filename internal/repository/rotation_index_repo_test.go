package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamloop/streamloop/internal/models"
)

func TestRotationIndexRepoAdvance(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRotationIndexRepository(db)
	ctx := context.Background()
	userID := models.NewULID()

	// First advance creates the counter and consumes index zero.
	idx, err := repo.Advance(ctx, userID, "/assets/thumbs")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = repo.Advance(ctx, userID, "/assets/thumbs")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	next, err := repo.Get(ctx, userID, "/assets/thumbs")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestRotationIndexRepoSeparateCounters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRotationIndexRepository(db)
	ctx := context.Background()
	userA := models.NewULID()
	userB := models.NewULID()

	_, err := repo.Advance(ctx, userA, "/assets/thumbs")
	require.NoError(t, err)
	_, err = repo.Advance(ctx, userA, "/assets/thumbs")
	require.NoError(t, err)

	// Different folder and different user each start at zero.
	idx, err := repo.Advance(ctx, userA, "/assets/titles")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = repo.Advance(ctx, userB, "/assets/thumbs")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestRotationIndexRepoGetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRotationIndexRepository(db)

	next, err := repo.Get(context.Background(), models.NewULID(), "/nowhere")
	require.NoError(t, err)
	assert.Equal(t, 0, next)
}
