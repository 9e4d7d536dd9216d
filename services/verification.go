package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

const (
	verificationTTL         = 24 * time.Hour
	verificationResendLimit = 3
	verificationResendWin   = time.Hour
)

// Mailer delivers account emails.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
}

// LogMailer writes verification tokens to the log instead of sending mail.
type LogMailer struct{}

func (LogMailer) SendVerification(ctx context.Context, email, token string) error {
	slog.Info("Verification email", "email", email, "token", token)
	return nil
}

type VerificationService struct {
	repo    *repository.GORMRepository
	limiter RateLimiter
	mailer  Mailer
	now     func() time.Time
}

func NewVerificationService(repo *repository.GORMRepository, limiter RateLimiter, mailer Mailer) *VerificationService {
	return &VerificationService{
		repo:    repo,
		limiter: limiter,
		mailer:  mailer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send issues a fresh token for user, replacing any previous one.
func (s *VerificationService) Send(ctx context.Context, user *models.User) error {
	if user.EmailVerifiedAt != nil {
		return nil
	}
	token, err := generateSecureToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}
	record := &models.VerificationToken{
		UserID:    user.ID,
		Token:     hashToken(token),
		ExpiresAt: s.now().Add(verificationTTL),
	}
	if err := s.repo.ReplaceVerificationToken(ctx, record); err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}
	return s.mailer.SendVerification(ctx, user.Email, token)
}

// Resend is Send behind a per-email limit. Unknown emails succeed silently
// so the endpoint cannot be used to probe accounts.
func (s *VerificationService) Resend(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	count, err := s.limiter.Hit(ctx, "verify:"+email, verificationResendWin)
	if err != nil {
		return fmt.Errorf("failed to check rate limit: %w", err)
	}
	if count > verificationResendLimit {
		return ErrRateLimited
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil
	}
	return s.Send(ctx, user)
}

// Verify consumes token and marks its user verified.
func (s *VerificationService) Verify(ctx context.Context, token string) error {
	record, err := s.repo.ConsumeVerificationToken(ctx, hashToken(token), s.now())
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}
	if record == nil {
		return ErrInvalidToken
	}
	if err := s.repo.MarkEmailVerified(ctx, record.UserID, s.now()); err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	slog.Info("Email verified", "user_id", record.UserID)
	return nil
}
