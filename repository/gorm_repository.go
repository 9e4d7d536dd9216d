package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/codescribe/backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// DB exposes the underlying handle for health checks.
func (r *GORMRepository) DB() *gorm.DB {
	return r.db
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.PermanentToken{},
		&models.VerificationToken{},
		&models.Repository{},
		&models.Analysis{},
		&models.Diagram{},
		&models.Report{},
		&models.Interview{},
		&models.InterviewTranscript{},
		&models.Feedback{},
		&models.RateLimitEntry{},
	)
}

// Transaction runs fn against a repository bound to a single transaction.
// Every call made through tx must use tx, never the outer repository.
func (r *GORMRepository) Transaction(ctx context.Context, fn func(tx *GORMRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GORMRepository{db: tx})
	})
}

// forUpdate adds a row lock where the dialect supports one.
func (r *GORMRepository) forUpdate(q *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) SetUserAdmin(ctx context.Context, userID string, isAdmin bool) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_admin", isAdmin).Error; err != nil {
		slog.Error("Failed to update admin flag", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *GORMRepository) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("email_verified_at", at).Error; err != nil {
		slog.Error("Failed to mark email verified", "error", err, "user_id", userID)
		return err
	}
	return nil
}

// Token operations
func (r *GORMRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&refreshToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get refresh token", "error", err)
		return nil, err
	}
	return &refreshToken, nil
}

func (r *GORMRepository) CreatePermanentToken(ctx context.Context, token *models.PermanentToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create permanent token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetPermanentToken(ctx context.Context, token string) (*models.PermanentToken, error) {
	var permanentToken models.PermanentToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&permanentToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get permanent token", "error", err)
		return nil, err
	}
	return &permanentToken, nil
}

func (r *GORMRepository) DeleteAllUserTokens(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete user refresh tokens", "error", err, "user_id", userID)
		return err
	}
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.PermanentToken{}).Error; err != nil {
		slog.Error("Failed to delete user permanent tokens", "error", err, "user_id", userID)
		return err
	}
	return nil
}

// Verification token operations
func (r *GORMRepository) ReplaceVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	return r.Transaction(ctx, func(tx *GORMRepository) error {
		if err := tx.db.WithContext(ctx).Where("user_id = ?", token.UserID).Delete(&models.VerificationToken{}).Error; err != nil {
			slog.Error("Failed to delete old verification tokens", "error", err, "user_id", token.UserID)
			return err
		}
		if err := tx.db.WithContext(ctx).Create(token).Error; err != nil {
			slog.Error("Failed to create verification token", "error", err, "user_id", token.UserID)
			return err
		}
		return nil
	})
}

// ConsumeVerificationToken deletes a live token and returns it, or nil if
// no unexpired token matches.
func (r *GORMRepository) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*models.VerificationToken, error) {
	var found models.VerificationToken
	err := r.Transaction(ctx, func(tx *GORMRepository) error {
		if err := tx.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, now).First(&found).Error; err != nil {
			return err
		}
		return tx.db.WithContext(ctx).Delete(&found).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to consume verification token", "error", err)
		return nil, err
	}
	return &found, nil
}
