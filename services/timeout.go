package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

const (
	// InterviewLimit is how long an interview may stay active before it is
	// treated as abandoned.
	InterviewLimit   = 30 * time.Minute
	sweepingInterval = time.Minute
)

// InterviewSweeper marks interviews that were never completed as failed.
type InterviewSweeper struct {
	repo     *repository.GORMRepository
	limit    time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewInterviewSweeper(repo *repository.GORMRepository) *InterviewSweeper {
	return &InterviewSweeper{
		repo:     repo,
		limit:    InterviewLimit,
		interval: sweepingInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *InterviewSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("Interview sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails every active interview older than the limit and returns how
// many were closed.
func (s *InterviewSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.ListStaleInterviews(ctx, now.Add(-s.limit))
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, interview := range stale {
		duration := int(now.Sub(interview.StartedAt).Seconds())
		if err := s.repo.FinishInterview(ctx, interview.ID, models.InterviewStatusFailed, now, duration); err != nil {
			slog.Error("Failed to close abandoned interview", "interview_id", interview.ID, "error", err)
			continue
		}
		closed++
		slog.Info("Abandoned interview closed", "interview_id", interview.ID, "inactive_duration", now.Sub(interview.StartedAt))
	}
	return closed, nil
}
