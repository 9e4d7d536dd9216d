package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedDatabase(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	cfg := &Config{Admin: AdminConfig{Email: "Root@Example.com", Password: "admin-password"}}
	seeder := NewDatabaseSeeder(repo, cfg)

	require.NoError(t, seeder.SeedDatabase(ctx))
	require.NoError(t, seeder.SeedDatabase(ctx), "seeding is repeatable")

	admin, err := repo.GetUserByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.True(t, admin.IsAdmin)
	assert.NotNil(t, admin.EmailVerifiedAt)

	demo, err := repo.GetUserByEmail(ctx, "demo@example.com")
	require.NoError(t, err)
	require.NotNil(t, demo)
	assert.False(t, demo.IsAdmin)
}

func TestSeedPromotesExistingAdmin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := createUser(t, repo, "ops@example.com", 2, 2)

	cfg := &Config{Server: ServerConfig{Environment: "production"}, Admin: AdminConfig{Email: "ops@example.com"}}
	require.NoError(t, NewDatabaseSeeder(repo, cfg).SeedDatabase(ctx))

	promoted, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin)

	demo, err := repo.GetUserByEmail(ctx, "demo@example.com")
	require.NoError(t, err)
	assert.Nil(t, demo, "no demo user in production")
}

func TestSeedAdminNeedsPassword(t *testing.T) {
	cfg := &Config{Admin: AdminConfig{Email: "new-admin@example.com"}}
	err := NewDatabaseSeeder(newTestRepo(t), cfg).SeedDatabase(context.Background())
	assert.Error(t, err)
}
