package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/codescribe/backend/repository"
)

type StartRequest struct {
	RepoURL      string                `json:"repoUrl"`
	FileAnalyses []models.FileAnalysis `json:"fileAnalyses"`
}

// AdvanceRequest moves an analysis to Step. Context may be the per-file
// analyses (array) or an already aggregated string; when empty the stored
// file context is used.
type AdvanceRequest struct {
	AnalysisID        string             `json:"analysisId,omitempty"`
	RepoURL           string             `json:"repoUrl,omitempty"`
	Step              int                `json:"step"`
	Context           json.RawMessage    `json:"context,omitempty"`
	CustomImages      []CustomImage      `json:"customImages,omitempty"`
	GeneratedDiagrams []GeneratedDiagram `json:"generatedDiagrams,omitempty"`
}

type StageResult struct {
	AnalysisID string `json:"analysisId"`
	Step       int    `json:"step"`
	Result     string `json:"result"`
	Book       *Book  `json:"book,omitempty"`
}

// ResumeSnapshot is everything a client needs to continue an analysis.
type ResumeSnapshot struct {
	AnalysisID          string                     `json:"analysisId"`
	Step                int                        `json:"step"`
	Status              string                     `json:"status"`
	FileContext         []models.FileAnalysis      `json:"fileContext"`
	ArchitectureContext models.ArchitectureContext `json:"architectureContext"`
	Repository          models.Repository          `json:"repository"`
	Diagrams            []models.Diagram           `json:"diagrams"`
}

// DocumentPipeline drives an analysis through vision, structure, visuals
// and bind. Each stage is persisted only after its model call succeeds, so a
// failed request leaves the analysis at its last good step.
type DocumentPipeline struct {
	repo       *repository.GORMRepository
	ledger     *CreditLedger
	resolver   *RepositoryResolver
	llm        TextGenerator
	llmTimeout time.Duration
	now        func() time.Time
}

func NewDocumentPipeline(repo *repository.GORMRepository, ledger *CreditLedger, llm TextGenerator, llmTimeout time.Duration) *DocumentPipeline {
	return &DocumentPipeline{
		repo:       repo,
		ledger:     ledger,
		resolver:   NewRepositoryResolver(repo),
		llm:        llm,
		llmTimeout: llmTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start creates an analysis, consumes a document credit and runs stage 1.
func (p *DocumentPipeline) Start(ctx context.Context, userID string, req StartRequest) (*StageResult, error) {
	if strings.TrimSpace(req.RepoURL) == "" {
		return nil, ErrRepositoryRequired
	}
	if len(req.FileAnalyses) == 0 {
		return nil, ErrFileContextRequired
	}
	ref, err := ResolveRepository(req.RepoURL)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.RequireCredits(ctx, userID, CreditTypeDocument); err != nil {
		return nil, err
	}

	var analysis *models.Analysis
	err = p.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		stored, _, err := p.resolver.WithTx(tx).UpsertRef(ctx, ref)
		if err != nil {
			return err
		}
		a := &models.Analysis{
			UserID:       userID,
			RepositoryID: stored.ID,
			Status:       models.AnalysisStatusProcessing,
			Step:         StepVision,
		}
		if err := a.SetFiles(req.FileAnalyses); err != nil {
			return fmt.Errorf("failed to encode file context: %w", err)
		}
		if err := a.SetContext(models.ArchitectureContext{}); err != nil {
			return fmt.Errorf("failed to encode architecture context: %w", err)
		}
		if err := tx.CreateAnalysis(ctx, a); err != nil {
			return fmt.Errorf("failed to create analysis: %w", err)
		}
		if err := p.ledger.WithTx(tx).ConsumeCredit(ctx, userID, CreditTypeDocument); err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	text, err := p.generate(ctx, StepVision, visionInstruction, visionPrompt(ref.FullName(), formatFileContext(req.FileAnalyses)), false)
	if err != nil {
		return nil, err
	}
	if err := p.persistStage(ctx, analysis.ID, StageInput{Step: StepVision, Content: text}, nil); err != nil {
		return nil, err
	}

	slog.Info("Pipeline started", "analysis_id", analysis.ID, "user_id", userID, "repo", ref.FullName())
	return &StageResult{AnalysisID: analysis.ID, Step: StepVision, Result: text}, nil
}

// Advance runs the next stage of the user's analysis. Step 1 re-runs vision
// for an analysis whose start failed after the credit was spent; it is free.
func (p *DocumentPipeline) Advance(ctx context.Context, userID string, req AdvanceRequest) (*StageResult, error) {
	if req.Step < StepVision || req.Step > StepBind {
		return nil, ErrInvalidStep
	}
	analysis, err := p.locate(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	if analysis.Status == models.AnalysisStatusCompleted {
		return nil, ErrAnalysisCompleted
	}

	stored, err := analysis.Context()
	if err != nil {
		return nil, fmt.Errorf("failed to decode architecture context: %w", err)
	}
	// Reject the transition before paying for a model call.
	if _, err := Advance(PipelineState{Step: analysis.Step, Context: stored}, StageInput{Step: req.Step}); err != nil {
		return nil, err
	}
	if req.Step == StepStructure && strings.TrimSpace(stored.Textual) == "" {
		return nil, ErrVisionMissing
	}

	repoName := analysis.Repository.Owner + "/" + analysis.Repository.Name
	result := &StageResult{AnalysisID: analysis.ID, Step: req.Step}

	switch req.Step {
	case StepVision:
		fileContext, err := p.fileContext(analysis, req.Context)
		if err != nil {
			return nil, err
		}
		text, err := p.generate(ctx, StepVision, visionInstruction, visionPrompt(repoName, fileContext), false)
		if err != nil {
			return nil, err
		}
		result.Result = text
		if err := p.persistStage(ctx, analysis.ID, StageInput{Step: StepVision, Content: text}, nil); err != nil {
			return nil, err
		}

	case StepStructure:
		fileContext, err := p.fileContext(analysis, req.Context)
		if err != nil {
			return nil, err
		}
		text, err := p.generate(ctx, StepStructure, structureInstruction, structurePrompt(repoName, fileContext), false)
		if err != nil {
			return nil, err
		}
		result.Result = text
		err = p.persistStage(ctx, analysis.ID, StageInput{Step: StepStructure, Content: text}, nil)
		if err != nil {
			return nil, err
		}

	case StepVisuals:
		inventory := formatInventory(req.CustomImages, req.GeneratedDiagrams)
		text, err := p.generate(ctx, StepVisuals, visualsInstruction, visualsPrompt(repoName, stored, inventory), false)
		if err != nil {
			return nil, err
		}
		result.Result = text
		err = p.persistStage(ctx, analysis.ID, StageInput{Step: StepVisuals, Content: text}, func(tx *repository.GORMRepository, a *models.Analysis) error {
			return recordInventory(ctx, tx, a.ID, req.CustomImages, req.GeneratedDiagrams)
		})
		if err != nil {
			return nil, err
		}

	case StepBind:
		raw, err := p.generate(ctx, StepBind, bindInstruction, bindPrompt(repoName, stored), true)
		if err != nil {
			return nil, err
		}
		book, err := ParseBook(raw)
		if err != nil {
			pipelineStageTotal.WithLabelValues(stageNames[StepBind], "invalid").Inc()
			return nil, err
		}
		result.Result = raw
		result.Book = book
		err = p.persistStage(ctx, analysis.ID, StageInput{Step: StepBind}, func(tx *repository.GORMRepository, a *models.Analysis) error {
			completedAt := p.now()
			a.Status = models.AnalysisStatusCompleted
			a.CompletedAt = &completedAt
			return tx.SaveReport(ctx, &models.Report{AnalysisID: a.ID, Title: book.Title, Content: raw})
		})
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Pipeline advanced", "analysis_id", analysis.ID, "step", req.Step)
	return result, nil
}

// Resume returns the persisted checkpoint of an analysis owned by userID.
func (p *DocumentPipeline) Resume(ctx context.Context, userID, analysisID string) (*ResumeSnapshot, error) {
	analysis, err := p.repo.GetAnalysis(ctx, analysisID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	if analysis == nil {
		return nil, ErrAnalysisNotFound
	}
	files, err := analysis.Files()
	if err != nil {
		return nil, fmt.Errorf("failed to decode file context: %w", err)
	}
	archCtx, err := analysis.Context()
	if err != nil {
		return nil, fmt.Errorf("failed to decode architecture context: %w", err)
	}
	diagrams, err := p.repo.GetDiagrams(ctx, analysis.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get diagrams: %w", err)
	}
	return &ResumeSnapshot{
		AnalysisID:          analysis.ID,
		Step:                analysis.Step,
		Status:              analysis.Status,
		FileContext:         files,
		ArchitectureContext: archCtx,
		Repository:          analysis.Repository,
		Diagrams:            diagrams,
	}, nil
}

func (p *DocumentPipeline) ListAnalyses(ctx context.Context, userID string) ([]models.Analysis, error) {
	analyses, err := p.repo.ListAnalyses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return analyses, nil
}

// GetReport returns the stored report and its parsed book.
func (p *DocumentPipeline) GetReport(ctx context.Context, userID, analysisID string) (*models.Report, *Book, error) {
	analysis, err := p.repo.GetAnalysis(ctx, analysisID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	if analysis == nil {
		return nil, nil, ErrAnalysisNotFound
	}
	report, err := p.repo.GetReport(ctx, analysis.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get report: %w", err)
	}
	if report == nil {
		return nil, nil, ErrReportNotFound
	}
	book, err := ParseBook(report.Content)
	if err != nil {
		return nil, nil, err
	}
	return report, book, nil
}

// locate prefers an explicit analysis id, then the newest active analysis
// for the request's repository, then the user's newest active analysis.
func (p *DocumentPipeline) locate(ctx context.Context, userID string, req AdvanceRequest) (*models.Analysis, error) {
	if req.AnalysisID != "" {
		analysis, err := p.repo.GetAnalysis(ctx, req.AnalysisID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get analysis: %w", err)
		}
		if analysis == nil {
			return nil, ErrAnalysisNotFound
		}
		return analysis, nil
	}

	if strings.TrimSpace(req.RepoURL) != "" {
		if ref, err := ResolveRepository(req.RepoURL); err == nil {
			stored, err := p.repo.GetRepositoryByURL(ctx, ref.CanonicalURL)
			if err != nil {
				return nil, fmt.Errorf("failed to get repository: %w", err)
			}
			if stored != nil {
				analysis, err := p.repo.FindActiveAnalysis(ctx, userID, stored.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to find analysis: %w", err)
				}
				if analysis != nil {
					return analysis, nil
				}
			}
		}
	}

	analysis, err := p.repo.FindActiveAnalysis(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to find analysis: %w", err)
	}
	if analysis == nil {
		return nil, ErrAnalysisNotFound
	}
	slog.Warn("Advancing most recent active analysis without repository match", "analysis_id", analysis.ID, "user_id", userID)
	return analysis, nil
}

// fileContext renders the request context, falling back to the stored one.
func (p *DocumentPipeline) fileContext(analysis *models.Analysis, raw json.RawMessage) (string, error) {
	if len(raw) > 0 && string(raw) != "null" {
		var files []models.FileAnalysis
		if err := json.Unmarshal(raw, &files); err == nil && len(files) > 0 {
			return formatFileContext(files), nil
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	files, err := analysis.Files()
	if err != nil {
		return "", fmt.Errorf("failed to decode file context: %w", err)
	}
	if len(files) == 0 {
		return "", ErrFileContextRequired
	}
	return formatFileContext(files), nil
}

// persistStage re-reads the analysis under lock, applies the reducer and
// writes the whole checkpoint back, so earlier stages are never lost.
func (p *DocumentPipeline) persistStage(ctx context.Context, analysisID string, in StageInput, extra func(tx *repository.GORMRepository, a *models.Analysis) error) error {
	return p.repo.Transaction(ctx, func(tx *repository.GORMRepository) error {
		a, err := tx.LockAnalysis(ctx, analysisID)
		if err != nil {
			return fmt.Errorf("failed to lock analysis: %w", err)
		}
		if a == nil {
			return ErrAnalysisNotFound
		}
		current, err := a.Context()
		if err != nil {
			return fmt.Errorf("failed to decode architecture context: %w", err)
		}
		next, err := Advance(PipelineState{Step: a.Step, Context: current}, in)
		if err != nil {
			return err
		}
		a.Step = next.Step
		a.Status = models.AnalysisStatusProcessing
		if err := a.SetContext(next.Context); err != nil {
			return fmt.Errorf("failed to encode architecture context: %w", err)
		}
		if extra != nil {
			if err := extra(tx, a); err != nil {
				return err
			}
		}
		return tx.SaveAnalysisState(ctx, a)
	})
}

func (p *DocumentPipeline) generate(ctx context.Context, step int, instruction, prompt string, asJSON bool) (string, error) {
	if p.llm == nil {
		return "", ErrServiceUnavailable
	}
	if p.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.llmTimeout)
		defer cancel()
	}

	var text string
	var err error
	if asJSON {
		text, err = p.llm.GenerateJSON(ctx, instruction, prompt)
	} else {
		text, err = p.llm.GenerateText(ctx, instruction, prompt)
	}
	if err != nil {
		pipelineStageTotal.WithLabelValues(stageNames[step], "failed").Inc()
		slog.Error("Stage generation failed", "step", step, "error", err)
		return "", fmt.Errorf("%s stage failed: %w", stageNames[step], err)
	}
	pipelineStageTotal.WithLabelValues(stageNames[step], "success").Inc()
	return text, nil
}

func recordInventory(ctx context.Context, tx *repository.GORMRepository, analysisID string, images []CustomImage, diagrams []GeneratedDiagram) error {
	for _, img := range images {
		if img.URL == "" {
			continue
		}
		err := tx.SaveDiagram(ctx, &models.Diagram{
			AnalysisID:  analysisID,
			DiagramType: models.DiagramTypeUpload,
			Tag:         img.Tag,
			ImageURL:    img.URL,
		})
		if err != nil {
			return fmt.Errorf("failed to record image: %w", err)
		}
	}
	for _, d := range diagrams {
		if d.URL == "" {
			continue
		}
		err := tx.SaveDiagram(ctx, &models.Diagram{
			AnalysisID:  analysisID,
			DiagramType: d.DiagramType,
			Tag:         d.Tag,
			MermaidCode: d.Code,
			ImageURL:    d.URL,
		})
		if err != nil {
			return fmt.Errorf("failed to record diagram: %w", err)
		}
	}
	return nil
}
