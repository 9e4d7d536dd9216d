package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codescribe/backend/models"
	"gorm.io/gorm"
)

// CreditColumns maps a credit type to its counter and reset columns.
func CreditColumns(creditType string) (counter, resetAt string, err error) {
	switch creditType {
	case "document":
		return "document_credits", "document_credits_reset_at", nil
	case "interview":
		return "interview_credits", "interview_credits_reset_at", nil
	}
	return "", "", fmt.Errorf("unknown credit type %q", creditType)
}

// ResetCredits restores a counter to ceiling and clears its reset time, but
// only if the stored reset time still equals observedResetAt. It reports
// whether this call performed the reset.
func (r *GORMRepository) ResetCredits(ctx context.Context, userID, creditType string, ceiling int, observedResetAt time.Time) (bool, error) {
	counter, resetCol, err := CreditColumns(creditType)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND "+resetCol+" = ?", userID, observedResetAt).
		Updates(map[string]interface{}{
			counter:  ceiling,
			resetCol: nil,
		})
	if res.Error != nil {
		slog.Error("Failed to reset credits", "error", res.Error, "user_id", userID, "type", creditType)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DecrementCredit atomically takes one credit if any remain, starting the
// reset window when it is not yet running. It reports false when the
// counter was already zero.
func (r *GORMRepository) DecrementCredit(ctx context.Context, userID, creditType string, windowEnd time.Time) (bool, error) {
	counter, resetCol, err := CreditColumns(creditType)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND "+counter+" > 0", userID).
		Updates(map[string]interface{}{
			counter:  gorm.Expr(counter + " - 1"),
			resetCol: gorm.Expr("COALESCE("+resetCol+", ?)", windowEnd),
		})
	if res.Error != nil {
		slog.Error("Failed to decrement credit", "error", res.Error, "user_id", userID, "type", creditType)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
