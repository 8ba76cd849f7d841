package guard

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/repository"
)

type staticCounter map[models.ULID]int

func (c staticCounter) ActiveCount(userID models.ULID) int { return c[userID] }

func setupGuard(t *testing.T, counter ActiveCounter, defaultLimit int) (*LiveLimitGuard, repository.UserRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	users := repository.NewUserRepository(db)
	return New(users, counter, defaultLimit, nil), users
}

func createUser(t *testing.T, users repository.UserRepository, name string, limit *int) *models.User {
	t.Helper()
	user := &models.User{Name: name, LiveLimit: limit}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

func TestGuardDefaultLimit(t *testing.T) {
	counter := staticCounter{}
	g, users := setupGuard(t, counter, 2)
	user := createUser(t, users, "alice", nil)
	ctx := context.Background()

	counter[user.ID] = 1
	info, err := g.ValidateAndGetInfo(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, info.CanStart)
	assert.Equal(t, 1, info.ActiveStreams)
	assert.Equal(t, 2, info.EffectiveLimit)

	counter[user.ID] = 2
	info, err = g.ValidateAndGetInfo(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, info.CanStart)
	assert.NotEmpty(t, info.Message)
}

func TestGuardUserOverrideWins(t *testing.T) {
	counter := staticCounter{}
	g, users := setupGuard(t, counter, 1)
	user := createUser(t, users, "bob", models.IntPtr(5))

	counter[user.ID] = 3
	info, err := g.ValidateAndGetInfo(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, info.CanStart)
	assert.Equal(t, 5, info.EffectiveLimit)
}

func TestGuardZeroMeansUnlimited(t *testing.T) {
	counter := staticCounter{}
	g, users := setupGuard(t, counter, 0)
	user := createUser(t, users, "carol", nil)

	counter[user.ID] = 100
	info, err := g.ValidateAndGetInfo(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, info.CanStart)
	assert.Equal(t, 0, info.EffectiveLimit)
}

func TestGuardZeroOverrideMeansUnlimited(t *testing.T) {
	counter := staticCounter{}
	g, users := setupGuard(t, counter, 1)
	user := createUser(t, users, "dave", models.IntPtr(0))

	counter[user.ID] = 7
	info, err := g.ValidateAndGetInfo(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, info.CanStart)
}

func TestGuardUnknownUserUsesDefault(t *testing.T) {
	g, _ := setupGuard(t, staticCounter{}, 3)

	info, err := g.ValidateAndGetInfo(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.True(t, info.CanStart)
	assert.Equal(t, 3, info.EffectiveLimit)
	assert.Equal(t, 0, info.ActiveStreams)
}
