package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
	"github.com/codescribe/backend/storage"
	"golang.org/x/sync/errgroup"
)

// DiagramRenderer turns diagram source into a PNG.
type DiagramRenderer interface {
	Render(ctx context.Context, source string) ([]byte, error)
}

// MermaidInkRenderer renders through a mermaid.ink compatible endpoint,
// passing the source base64url encoded in the path.
type MermaidInkRenderer struct {
	baseURL string
	client  *http.Client
}

func NewMermaidInkRenderer(baseURL string) *MermaidInkRenderer {
	if baseURL == "" {
		baseURL = "https://mermaid.ink/img/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &MermaidInkRenderer{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (r *MermaidInkRenderer) Render(ctx context.Context, source string) ([]byte, error) {
	url := r.baseURL + base64.URLEncoding.EncodeToString([]byte(source)) + "?type=png"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

type DiagramRequest struct {
	RepoName    string `json:"repoName"`
	DiagramType string `json:"diagramType"`
	Context     string `json:"context"`
	AnalysisID  string `json:"analysisId,omitempty"`
}

type DiagramResult struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// DiagramOutcome is the per-type result of a batch.
type DiagramOutcome struct {
	Result *DiagramResult
	Err    error
}

const diagramInstruction = `You generate Mermaid diagrams that document software repositories.
Return a JSON object of the form {"mermaid": "<diagram source>"} containing valid Mermaid syntax only.
Do not wrap the source in code fences.`

// DiagramGenerator asks the model for Mermaid source, renders it and
// uploads the image. Calls for different types share no state.
type DiagramGenerator struct {
	llm        TextGenerator
	renderer   DiagramRenderer
	uploader   storage.Uploader
	repo       *repository.GORMRepository
	llmTimeout time.Duration
	now        func() time.Time
}

func NewDiagramGenerator(llm TextGenerator, renderer DiagramRenderer, uploader storage.Uploader, repo *repository.GORMRepository, llmTimeout time.Duration) *DiagramGenerator {
	return &DiagramGenerator{
		llm:        llm,
		renderer:   renderer,
		uploader:   uploader,
		repo:       repo,
		llmTimeout: llmTimeout,
		now:        time.Now,
	}
}

// GenerateDiagram produces one diagram. With an AnalysisID owned by userID
// the diagram is also recorded against that analysis.
func (g *DiagramGenerator) GenerateDiagram(ctx context.Context, userID string, req DiagramRequest) (*DiagramResult, error) {
	if strings.TrimSpace(req.DiagramType) == "" {
		return nil, ErrDiagramTypeRequired
	}
	if g.llm == nil || g.uploader == nil {
		return nil, ErrServiceUnavailable
	}

	var analysis *models.Analysis
	if req.AnalysisID != "" && g.repo != nil {
		a, err := g.repo.GetAnalysis(ctx, req.AnalysisID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get analysis: %w", err)
		}
		if a == nil {
			return nil, ErrAnalysisNotFound
		}
		analysis = a
	}

	source, err := g.diagramSource(ctx, req)
	if err != nil {
		diagramGenerationTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	png, err := g.renderer.Render(ctx, source)
	if err != nil {
		diagramGenerationTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to render diagram: %w", err)
	}

	key := fmt.Sprintf("diagrams/%s_%s_%d.png",
		storage.SanitizeKeyPart(req.RepoName), storage.SanitizeKeyPart(req.DiagramType), g.now().UnixMilli())
	url, err := g.uploader.Upload(ctx, key, png, "image/png")
	if err != nil {
		diagramGenerationTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to upload diagram: %w", err)
	}

	if analysis != nil {
		err := g.repo.SaveDiagram(ctx, &models.Diagram{
			AnalysisID:  analysis.ID,
			DiagramType: req.DiagramType,
			MermaidCode: source,
			ImageURL:    url,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record diagram: %w", err)
		}
	}

	diagramGenerationTotal.WithLabelValues("success").Inc()
	slog.Info("Diagram generated", "repo", req.RepoName, "type", req.DiagramType, "url", url)
	return &DiagramResult{URL: url, Code: source}, nil
}

// GenerateDiagrams runs one task per diagram type. Each task has its own
// context, so a failing or slow type never cancels another.
func (g *DiagramGenerator) GenerateDiagrams(ctx context.Context, userID, repoName, fileContext string, types []string) map[string]DiagramOutcome {
	outcomes := make(map[string]DiagramOutcome, len(types))
	var mu sync.Mutex

	var eg errgroup.Group
	eg.SetLimit(4)
	seen := map[string]bool{}
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		eg.Go(func() error {
			taskCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			res, err := g.GenerateDiagram(taskCtx, userID, DiagramRequest{RepoName: repoName, DiagramType: t, Context: fileContext})
			if err != nil {
				slog.Warn("Diagram generation failed", "type", t, "error", err)
			}
			mu.Lock()
			outcomes[t] = DiagramOutcome{Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func (g *DiagramGenerator) diagramSource(ctx context.Context, req DiagramRequest) (string, error) {
	if g.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.llmTimeout)
		defer cancel()
	}
	prompt := fmt.Sprintf("Repository: %s\nDiagram type: %s\n\nContext:\n%s", req.RepoName, req.DiagramType, req.Context)
	raw, err := g.llm.GenerateJSON(ctx, diagramInstruction, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate diagram source: %w", err)
	}
	source, err := ExtractPayload(raw, "mermaid", "code", "diagram")
	if err != nil {
		return "", err
	}
	source = StripCodeFences(source)
	if source == "" {
		return "", ErrNoPayload
	}
	return source, nil
}
