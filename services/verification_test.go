package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	sent map[string][]string
}

func (m *captureMailer) SendVerification(ctx context.Context, email, token string) error {
	if m.sent == nil {
		m.sent = map[string][]string{}
	}
	m.sent[email] = append(m.sent[email], token)
	return nil
}

func (m *captureMailer) last(email string) string {
	tokens := m.sent[email]
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

func newTestVerification(t *testing.T) (*VerificationService, *captureMailer, *fakeClock) {
	t.Helper()
	repo := newTestRepo(t)
	mailer := &captureMailer{}
	clock := newFakeClock()
	limiter := NewDBRateLimiter(repo)
	limiter.now = clock.Now
	svc := NewVerificationService(repo, limiter, mailer)
	svc.now = clock.Now
	return svc, mailer, clock
}

func TestVerifyEmail(t *testing.T) {
	svc, mailer, _ := newTestVerification(t)
	ctx := context.Background()
	user := createUser(t, svc.repo, "new@example.com", 2, 2)

	require.NoError(t, svc.Send(ctx, user))
	token := mailer.last("new@example.com")
	require.NotEmpty(t, token)

	require.NoError(t, svc.Verify(ctx, token))
	stored, err := svc.repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.EmailVerifiedAt)

	assert.ErrorIs(t, svc.Verify(ctx, token), ErrInvalidToken, "tokens are single use")

	// Verified users get no further mail.
	require.NoError(t, svc.Send(ctx, stored))
	assert.Len(t, mailer.sent["new@example.com"], 1)
}

func TestVerifyRejectsUnknownAndExpired(t *testing.T) {
	svc, mailer, clock := newTestVerification(t)
	ctx := context.Background()
	user := createUser(t, svc.repo, "slow@example.com", 2, 2)

	assert.ErrorIs(t, svc.Verify(ctx, "not-a-token"), ErrInvalidToken)

	require.NoError(t, svc.Send(ctx, user))
	clock.Advance(verificationTTL + time.Minute)
	assert.ErrorIs(t, svc.Verify(ctx, mailer.last("slow@example.com")), ErrInvalidToken)
}

func TestResendReplacesToken(t *testing.T) {
	svc, mailer, _ := newTestVerification(t)
	ctx := context.Background()
	createUser(t, svc.repo, "again@example.com", 2, 2)

	require.NoError(t, svc.Resend(ctx, "again@example.com"))
	first := mailer.last("again@example.com")
	require.NoError(t, svc.Resend(ctx, " Again@Example.com "))
	second := mailer.last("again@example.com")
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, svc.Verify(ctx, first), ErrInvalidToken)
	assert.NoError(t, svc.Verify(ctx, second))
}

func TestResendRateLimited(t *testing.T) {
	svc, mailer, clock := newTestVerification(t)
	ctx := context.Background()
	createUser(t, svc.repo, "spam@example.com", 2, 2)

	for i := 0; i < verificationResendLimit; i++ {
		require.NoError(t, svc.Resend(ctx, "spam@example.com"))
	}
	assert.ErrorIs(t, svc.Resend(ctx, "spam@example.com"), ErrRateLimited)
	assert.Len(t, mailer.sent["spam@example.com"], verificationResendLimit)

	clock.Advance(verificationResendWin)
	assert.NoError(t, svc.Resend(ctx, "spam@example.com"))
}

func TestResendUnknownEmail(t *testing.T) {
	svc, mailer, _ := newTestVerification(t)
	require.NoError(t, svc.Resend(context.Background(), "nobody@example.com"))
	assert.Empty(t, mailer.sent)
}
