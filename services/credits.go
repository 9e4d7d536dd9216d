package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

const (
	CreditTypeDocument  = "document"
	CreditTypeInterview = "interview"
)

// UnlimitedCredits is reported as the remaining balance of admin users.
const UnlimitedCredits = CreditCount(math.MaxInt32)

// CreditCount serialises UnlimitedCredits as the string "Infinity".
type CreditCount int

func (c CreditCount) MarshalJSON() ([]byte, error) {
	if c == UnlimitedCredits {
		return []byte(`"Infinity"`), nil
	}
	return []byte(fmt.Sprintf("%d", int(c))), nil
}

type CreditCheck struct {
	HasCredits bool        `json:"hasCredits"`
	Remaining  CreditCount `json:"remaining"`
	ResetAt    *time.Time  `json:"resetAt"`
}

type CreditStatus struct {
	IsAdmin                 bool        `json:"isAdmin"`
	DocumentCredits         CreditCount `json:"documentCredits"`
	InterviewCredits        CreditCount `json:"interviewCredits"`
	DocumentCreditsResetAt  *time.Time  `json:"documentCreditsResetAt"`
	InterviewCreditsResetAt *time.Time  `json:"interviewCreditsResetAt"`
	DocumentTimeUntilReset  int         `json:"documentTimeUntilReset"`
	InterviewTimeUntilReset int         `json:"interviewTimeUntilReset"`
}

// CreditLedger gates document and interview workflows with per-user
// counters that reset lazily a fixed window after first consumption.
// Every call re-reads the store; nothing is cached.
type CreditLedger struct {
	repo    *repository.GORMRepository
	ceiling int
	window  time.Duration
	now     func() time.Time
}

func NewCreditLedger(repo *repository.GORMRepository, cfg CreditsConfig) *CreditLedger {
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = models.DefaultCredits
	}
	window := cfg.ResetWindow
	if window <= 0 {
		window = 48 * time.Hour
	}
	return &CreditLedger{
		repo:    repo,
		ceiling: ceiling,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a ledger whose reads and writes go through tx.
func (l *CreditLedger) WithTx(tx *repository.GORMRepository) *CreditLedger {
	cp := *l
	cp.repo = tx
	return &cp
}

// CheckCredits reports whether the user may start a workflow of creditType.
func (l *CreditLedger) CheckCredits(ctx context.Context, userID, creditType string) (*CreditCheck, error) {
	if _, _, err := repository.CreditColumns(creditType); err != nil {
		return nil, err
	}
	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		return &CreditCheck{HasCredits: true, Remaining: UnlimitedCredits}, nil
	}
	if _, err := l.resetIfDue(ctx, user, creditType); err != nil {
		return nil, err
	}
	remaining, resetAt := creditFields(user, creditType)
	return &CreditCheck{
		HasCredits: remaining > 0,
		Remaining:  CreditCount(remaining),
		ResetAt:    resetAt,
	}, nil
}

// RequireCredits is CheckCredits turned into an error for gated workflows.
func (l *CreditLedger) RequireCredits(ctx context.Context, userID, creditType string) error {
	check, err := l.CheckCredits(ctx, userID, creditType)
	if err != nil {
		return err
	}
	if !check.HasCredits {
		creditsExhaustedTotal.WithLabelValues(creditType).Inc()
		return &CreditsExhaustedError{
			Type:           creditType,
			ResetAt:        check.ResetAt,
			TimeUntilReset: HoursUntil(check.ResetAt, l.now()),
		}
	}
	return nil
}

// ConsumeCredit takes one credit. It returns a *CreditsExhaustedError when
// the counter is already zero, including when a concurrent request took
// the last credit between check and consume.
func (l *CreditLedger) ConsumeCredit(ctx context.Context, userID, creditType string) error {
	if _, _, err := repository.CreditColumns(creditType); err != nil {
		return err
	}
	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsAdmin {
		return nil
	}
	if _, err := l.resetIfDue(ctx, user, creditType); err != nil {
		return err
	}

	ok, err := l.repo.DecrementCredit(ctx, userID, creditType, l.now().Add(l.window))
	if err != nil {
		return fmt.Errorf("failed to consume credit: %w", err)
	}
	if !ok {
		current, err := l.loadUser(ctx, userID)
		if err != nil {
			return err
		}
		creditsExhaustedTotal.WithLabelValues(creditType).Inc()
		return l.Exhausted(current, creditType)
	}

	slog.Info("Credit consumed", "user_id", userID, "type", creditType)
	return nil
}

// ResetCreditsIfNeeded restores the counter when its reset time has passed.
func (l *CreditLedger) ResetCreditsIfNeeded(ctx context.Context, userID, creditType string) (bool, error) {
	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return l.resetIfDue(ctx, user, creditType)
}

// GetCreditStatus returns a snapshot of both counters after lazy resets.
func (l *CreditLedger) GetCreditStatus(ctx context.Context, userID string) (*CreditStatus, error) {
	user, err := l.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		return &CreditStatus{
			IsAdmin:          true,
			DocumentCredits:  UnlimitedCredits,
			InterviewCredits: UnlimitedCredits,
		}, nil
	}
	for _, t := range []string{CreditTypeDocument, CreditTypeInterview} {
		if _, err := l.resetIfDue(ctx, user, t); err != nil {
			return nil, err
		}
	}

	now := l.now()
	return &CreditStatus{
		DocumentCredits:         CreditCount(user.DocumentCredits),
		InterviewCredits:        CreditCount(user.InterviewCredits),
		DocumentCreditsResetAt:  user.DocumentCreditsResetAt,
		InterviewCreditsResetAt: user.InterviewCreditsResetAt,
		DocumentTimeUntilReset:  HoursUntil(user.DocumentCreditsResetAt, now),
		InterviewTimeUntilReset: HoursUntil(user.InterviewCreditsResetAt, now),
	}, nil
}

// Exhausted builds the structured exhaustion error for user.
func (l *CreditLedger) Exhausted(user *models.User, creditType string) *CreditsExhaustedError {
	_, resetAt := creditFields(user, creditType)
	return &CreditsExhaustedError{
		Type:           creditType,
		ResetAt:        resetAt,
		TimeUntilReset: HoursUntil(resetAt, l.now()),
	}
}

// HoursUntil returns the whole hours until t, rounded up, never negative.
func HoursUntil(t *time.Time, now time.Time) int {
	if t == nil {
		return 0
	}
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

func (l *CreditLedger) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := l.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return user, nil
}

// resetIfDue performs the lazy reset and keeps user in sync with the store.
func (l *CreditLedger) resetIfDue(ctx context.Context, user *models.User, creditType string) (bool, error) {
	_, resetAt := creditFields(user, creditType)
	if user.IsAdmin || resetAt == nil || l.now().Before(*resetAt) {
		return false, nil
	}

	reset, err := l.repo.ResetCredits(ctx, user.ID, creditType, l.ceiling, *resetAt)
	if err != nil {
		return false, fmt.Errorf("failed to reset credits: %w", err)
	}
	if !reset {
		// Another request reset (and maybe consumed) first; take its view.
		fresh, err := l.loadUser(ctx, user.ID)
		if err != nil {
			return false, err
		}
		*user = *fresh
		return false, nil
	}

	setCreditFields(user, creditType, l.ceiling, nil)
	slog.Info("Credits reset", "user_id", user.ID, "type", creditType)
	return true, nil
}

func creditFields(user *models.User, creditType string) (int, *time.Time) {
	if creditType == CreditTypeInterview {
		return user.InterviewCredits, user.InterviewCreditsResetAt
	}
	return user.DocumentCredits, user.DocumentCreditsResetAt
}

func setCreditFields(user *models.User, creditType string, remaining int, resetAt *time.Time) {
	if creditType == CreditTypeInterview {
		user.InterviewCredits, user.InterviewCreditsResetAt = remaining, resetAt
		return
	}
	user.DocumentCredits, user.DocumentCreditsResetAt = remaining, resetAt
}
