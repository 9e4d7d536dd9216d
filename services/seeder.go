package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo   *repository.GORMRepository
	config *Config
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository, config *Config) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, config: config}
}

// SeedDatabase bootstraps the admin account and, outside production, a
// demo user. Safe to run on every start.
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	if s.config.Admin.Email != "" {
		if err := s.seedAdmin(ctx, s.config.Admin.Email, s.config.Admin.Password); err != nil {
			return err
		}
	}

	if !s.config.IsProduction() {
		if err := s.seedUser(ctx, "demo@example.com", "password123", "Demo User"); err != nil {
			slog.Error("Failed to seed user", "email", "demo@example.com", "error", err)
		}
	}

	slog.Info("Database seeding completed successfully")
	return nil
}

// seedAdmin creates the admin or promotes an existing account.
func (s *DatabaseSeeder) seedAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("error checking admin %s: %w", email, err)
	}
	if existing != nil {
		if existing.IsAdmin {
			slog.Info("Admin already exists, skipping", "email", email)
			return nil
		}
		if err := s.repo.SetUserAdmin(ctx, existing.ID, true); err != nil {
			return fmt.Errorf("failed to promote admin %s: %w", email, err)
		}
		slog.Info("Promoted existing user to admin", "email", email)
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required to create %s", email)
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	admin := &models.User{
		Email:           email,
		Password:        hashed,
		FullName:        "Administrator",
		IsAdmin:         true,
		EmailVerifiedAt: &now,
	}
	if err := s.repo.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin %s: %w", email, err)
	}
	slog.Info("Created admin", "email", email)
	return nil
}

// seedUser seeds a single user (idempotent)
func (s *DatabaseSeeder) seedUser(ctx context.Context, email, password, fullName string) error {
	existingUser, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", email, err)
	}
	if existingUser != nil {
		slog.Info("User already exists, skipping", "email", email)
		return nil
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &models.User{
		Email:            email,
		Password:         hashed,
		FullName:         fullName,
		DocumentCredits:  models.DefaultCredits,
		InterviewCredits: models.DefaultCredits,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", email, err)
	}
	slog.Info("Created user", "email", email)
	return nil
}
