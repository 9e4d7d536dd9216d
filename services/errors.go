package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrRepositoryRequired  = errors.New("repository reference is required")
	ErrFileContextRequired = errors.New("at least one file analysis is required")
	ErrAnalysisNotFound    = errors.New("analysis not found")
	ErrAnalysisCompleted   = errors.New("analysis already completed")
	ErrStepRegression      = errors.New("pipeline cannot move backwards")
	ErrStepSkipped         = errors.New("pipeline cannot skip a stage")
	ErrInvalidStep         = errors.New("step must be between 1 and 4")
	ErrVisionMissing       = errors.New("vision stage has no output, retry step 1")
	ErrInvalidBook         = errors.New("model returned an invalid book")
	ErrNoPayload           = errors.New("no usable payload in model response")
	ErrDiagramTypeRequired = errors.New("diagram type is required")
	ErrReportNotFound      = errors.New("report not found")
	ErrInterviewNotFound   = errors.New("interview not found")
	ErrTranscriptRequired  = errors.New("transcript is required")
	ErrRateLimited         = errors.New("too many requests")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrServiceUnavailable  = errors.New("service not configured")
)

// CreditsExhaustedError is the business condition returned when a user has
// no credits left of a type. It unwraps to ErrInsufficientCredits.
type CreditsExhaustedError struct {
	Type           string
	ResetAt        *time.Time
	TimeUntilReset int // hours, rounded up
}

func (e *CreditsExhaustedError) Error() string {
	return fmt.Sprintf("%s credits exhausted, resets in %d hours", e.Type, e.TimeUntilReset)
}

func (e *CreditsExhaustedError) Unwrap() error {
	return ErrInsufficientCredits
}
