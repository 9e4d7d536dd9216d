package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeServiceError maps domain errors onto HTTP statuses. Credit
// exhaustion is a structured 403 so clients can render a countdown;
// anything unrecognised is an upstream failure surfaced verbatim.
func writeServiceError(w http.ResponseWriter, err error) {
	var exhausted *CreditsExhaustedError
	if errors.As(err, &exhausted) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":            exhausted.Error(),
			"creditsExhausted": true,
			"creditType":       exhausted.Type,
			"timeUntilReset":   exhausted.TimeUntilReset,
			"resetAt":          exhausted.ResetAt,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrRepositoryRequired),
		errors.Is(err, ErrFileContextRequired),
		errors.Is(err, ErrStepRegression),
		errors.Is(err, ErrStepSkipped),
		errors.Is(err, ErrInvalidStep),
		errors.Is(err, ErrVisionMissing),
		errors.Is(err, ErrAnalysisCompleted),
		errors.Is(err, ErrTranscriptRequired),
		errors.Is(err, ErrDiagramTypeRequired),
		errors.Is(err, ErrInvalidToken):
		status = http.StatusBadRequest
	case errors.Is(err, ErrAnalysisNotFound),
		errors.Is(err, ErrReportNotFound),
		errors.Is(err, ErrInterviewNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(v)
}
