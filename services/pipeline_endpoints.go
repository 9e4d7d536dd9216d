package services

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type PipelineEndpoints struct {
	pipeline *DocumentPipeline
}

func NewPipelineEndpoints(pipeline *DocumentPipeline) *PipelineEndpoints {
	return &PipelineEndpoints{pipeline: pipeline}
}

func (e *PipelineEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/start", e.StartHandler)
		r.Post("/advance", e.AdvanceHandler)
	})
	r.Route("/analyses", func(r chi.Router) {
		r.Get("/", e.ListAnalysesHandler)
		r.Get("/{id}", e.GetAnalysisHandler)
		r.Get("/{id}/report", e.GetReportHandler)
	})
}

func (e *PipelineEndpoints) StartHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := e.pipeline.Start(r.Context(), user.ID, req)
	if err != nil {
		slog.Warn("Pipeline start failed", "error", err, "user_id", user.ID, "repo", req.RepoURL)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *PipelineEndpoints) AdvanceHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req AdvanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := e.pipeline.Advance(r.Context(), user.ID, req)
	if err != nil {
		slog.Warn("Pipeline advance failed", "error", err, "user_id", user.ID, "step", req.Step)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *PipelineEndpoints) ListAnalysesHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	analyses, err := e.pipeline.ListAnalyses(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

func (e *PipelineEndpoints) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	snapshot, err := e.pipeline.Resume(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (e *PipelineEndpoints) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	report, book, err := e.pipeline.GetReport(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"book":   book,
	})
}
