package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codescribe/backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Interview operations
func (r *GORMRepository) CreateInterview(ctx context.Context, interview *models.Interview) error {
	if err := r.db.WithContext(ctx).Create(interview).Error; err != nil {
		slog.Error("Failed to create interview", "error", err)
		return fmt.Errorf("failed to create interview: %w", err)
	}
	slog.Info("Interview created", "interview_id", interview.ID, "repository_id", interview.RepositoryID)
	return nil
}

func (r *GORMRepository) GetInterview(ctx context.Context, id string) (*models.Interview, error) {
	var interview models.Interview
	if err := r.db.WithContext(ctx).Preload("Repository").Where("id = ?", id).First(&interview).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get interview", "error", err, "interview_id", id)
		return nil, err
	}
	return &interview, nil
}

// FinishInterview moves an interview out of the active state. A zero
// duration leaves the stored duration untouched.
func (r *GORMRepository) FinishInterview(ctx context.Context, id, status string, endedAt time.Time, duration int) error {
	updates := map[string]interface{}{
		"status":   status,
		"ended_at": endedAt,
	}
	if duration > 0 {
		updates["duration"] = duration
	}
	if err := r.db.WithContext(ctx).Model(&models.Interview{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		slog.Error("Failed to finish interview", "error", err, "interview_id", id, "status", status)
		return fmt.Errorf("failed to finish interview: %w", err)
	}
	return nil
}

// ListStaleInterviews returns active interviews started before cutoff.
func (r *GORMRepository) ListStaleInterviews(ctx context.Context, cutoff time.Time) ([]models.Interview, error) {
	var interviews []models.Interview
	err := r.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.InterviewStatusActive, cutoff).
		Find(&interviews).Error
	if err != nil {
		slog.Error("Failed to list stale interviews", "error", err)
		return nil, fmt.Errorf("failed to list stale interviews: %w", err)
	}
	return interviews, nil
}

// AppendTranscript stores a transcript line with the next turn number. The
// interview row is locked first so concurrent writers take turns in order.
func (r *GORMRepository) AppendTranscript(ctx context.Context, transcript *models.InterviewTranscript) error {
	return r.Transaction(ctx, func(tx *GORMRepository) error {
		var interview models.Interview
		err := tx.forUpdate(tx.db.WithContext(ctx)).Select("id").Where("id = ?", transcript.InterviewID).First(&interview).Error
		if err != nil {
			slog.Error("Failed to lock interview", "error", err, "interview_id", transcript.InterviewID)
			return fmt.Errorf("failed to lock interview: %w", err)
		}

		var last int
		err = tx.db.WithContext(ctx).Model(&models.InterviewTranscript{}).
			Where("interview_id = ?", transcript.InterviewID).
			Select("COALESCE(MAX(turn_order), 0)").
			Scan(&last).Error
		if err != nil {
			slog.Error("Failed to read last turn", "error", err, "interview_id", transcript.InterviewID)
			return fmt.Errorf("failed to read last turn: %w", err)
		}
		transcript.TurnOrder = last + 1
		if err := tx.db.WithContext(ctx).Create(transcript).Error; err != nil {
			slog.Error("Failed to save transcript", "error", err, "interview_id", transcript.InterviewID)
			return fmt.Errorf("failed to save transcript: %w", err)
		}
		return nil
	})
}

func (r *GORMRepository) GetTranscripts(ctx context.Context, interviewID string) ([]models.InterviewTranscript, error) {
	var transcripts []models.InterviewTranscript
	if err := r.db.WithContext(ctx).Where("interview_id = ?", interviewID).Order("turn_order").Find(&transcripts).Error; err != nil {
		slog.Error("Failed to get transcripts", "error", err, "interview_id", interviewID)
		return nil, fmt.Errorf("failed to get transcripts: %w", err)
	}
	return transcripts, nil
}

func (r *GORMRepository) SaveFeedback(ctx context.Context, feedback *models.Feedback) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "interview_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(feedback).Error
	if err != nil {
		slog.Error("Failed to save feedback", "error", err, "interview_id", feedback.InterviewID)
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

func (r *GORMRepository) GetFeedback(ctx context.Context, interviewID string) (*models.Feedback, error) {
	var feedback models.Feedback
	if err := r.db.WithContext(ctx).Where("interview_id = ?", interviewID).First(&feedback).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get feedback", "error", err, "interview_id", interviewID)
		return nil, err
	}
	return &feedback, nil
}

// IncrementRateLimit bumps the fixed-window counter for key and returns
// the count within the current window.
func (r *GORMRepository) IncrementRateLimit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	var count int64
	err := r.Transaction(ctx, func(tx *GORMRepository) error {
		var entry models.RateLimitEntry
		err := tx.forUpdate(tx.db.WithContext(ctx)).Where("bucket = ?", key).First(&entry).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			entry = models.RateLimitEntry{Bucket: key, Count: 1, ExpiresAt: now.Add(window)}
			count = 1
			return tx.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "bucket"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("rate_limit_entries.count + 1")}),
			}).Create(&entry).Error
		case err != nil:
			return err
		}

		if !now.Before(entry.ExpiresAt) {
			entry.Count = 0
			entry.ExpiresAt = now.Add(window)
		}
		entry.Count++
		count = entry.Count
		return tx.db.WithContext(ctx).Model(&models.RateLimitEntry{}).Where("bucket = ?", key).
			Updates(map[string]interface{}{"count": entry.Count, "expires_at": entry.ExpiresAt}).Error
	})
	if err != nil {
		slog.Error("Failed to increment rate limit", "error", err, "key", key)
		return 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	return count, nil
}
