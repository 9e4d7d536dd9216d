package services

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type DiagramEndpoints struct {
	generator *DiagramGenerator
}

type DiagramBatchRequest struct {
	RepoName     string   `json:"repoName"`
	Context      string   `json:"context"`
	DiagramTypes []string `json:"diagramTypes"`
}

func NewDiagramEndpoints(generator *DiagramGenerator) *DiagramEndpoints {
	return &DiagramEndpoints{generator: generator}
}

func (e *DiagramEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/diagrams", func(r chi.Router) {
		r.Post("/", e.GenerateHandler)
		r.Post("/batch", e.BatchHandler)
	})
}

func (e *DiagramEndpoints) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req DiagramRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.DiagramType) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "diagramType is required"})
		return
	}

	result, err := e.generator.GenerateDiagram(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"url":     result.URL,
		"code":    result.Code,
	})
}

// BatchHandler generates several types at once; each type reports its own
// success or error.
func (e *DiagramEndpoints) BatchHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	var req DiagramBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.DiagramTypes) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "diagramTypes is required"})
		return
	}

	outcomes := e.generator.GenerateDiagrams(r.Context(), user.ID, req.RepoName, req.Context, req.DiagramTypes)
	results := make(map[string]interface{}, len(outcomes))
	for diagramType, outcome := range outcomes {
		if outcome.Err != nil {
			results[diagramType] = map[string]interface{}{"success": false, "error": outcome.Err.Error()}
			continue
		}
		results[diagramType] = map[string]interface{}{
			"success": true,
			"url":     outcome.Result.URL,
			"code":    outcome.Result.Code,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}
