package services

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RepoEndpoints serves repository browsing, per-file analysis and the
// caller's credit balance.
type RepoEndpoints struct {
	source   RepoSource
	analyzer *FileAnalyzer
	ledger   *CreditLedger
}

type AnalyzeRepoRequest struct {
	RepoURL string   `json:"repoUrl"`
	Paths   []string `json:"paths,omitempty"`
}

func NewRepoEndpoints(source RepoSource, analyzer *FileAnalyzer, ledger *CreditLedger) *RepoEndpoints {
	return &RepoEndpoints{source: source, analyzer: analyzer, ledger: ledger}
}

func (e *RepoEndpoints) RegisterRoutes(r chi.Router) {
	r.Get("/credits", e.CreditsHandler)
	r.Route("/repos", func(r chi.Router) {
		r.Get("/files", e.ListFilesHandler)
		r.Post("/analyze", e.AnalyzeHandler)
	})
}

func (e *RepoEndpoints) CreditsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	status, err := e.ledger.GetCreditStatus(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListFilesHandler returns the analyzable files of ?repo=.
func (e *RepoEndpoints) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	if e.source == nil {
		writeServiceError(w, ErrServiceUnavailable)
		return
	}
	ref, err := ResolveRepository(r.URL.Query().Get("repo"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	all, err := e.source.ListFiles(r.Context(), ref.Owner, ref.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	files := FilterSourceFiles(all)
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner": ref.Owner,
		"name":  ref.Name,
		"url":   ref.CanonicalURL,
		"files": files,
		"total": len(all),
	})
}

func (e *RepoEndpoints) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if e.analyzer == nil {
		writeServiceError(w, ErrServiceUnavailable)
		return
	}
	var req AnalyzeRepoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ref, err := ResolveRepository(req.RepoURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	analyses, err := e.analyzer.AnalyzeRepository(r.Context(), ref, req.Paths, nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	skipped := 0
	for _, a := range analyses {
		if a.Analysis == SkippedAssetAnalysis {
			skipped++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fileAnalyses": analyses,
		"analyzed":     len(analyses) - skipped,
		"skipped":      skipped,
	})
}
