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

// UpsertRepository inserts by URL or refreshes the name of the existing row,
// then returns the stored record.
func (r *GORMRepository) UpsertRepository(ctx context.Context, repo *models.Repository) (*models.Repository, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
	}).Create(repo).Error
	if err != nil {
		slog.Error("Failed to upsert repository", "error", err, "url", repo.URL)
		return nil, fmt.Errorf("failed to upsert repository: %w", err)
	}

	stored, err := r.GetRepositoryByURL(ctx, repo.URL)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("repository %q missing after upsert", repo.URL)
	}
	return stored, nil
}

func (r *GORMRepository) GetRepositoryByURL(ctx context.Context, url string) (*models.Repository, error) {
	var repo models.Repository
	if err := r.db.WithContext(ctx).Where("url = ?", url).First(&repo).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get repository", "error", err, "url", url)
		return nil, err
	}
	return &repo, nil
}

// Analysis operations
func (r *GORMRepository) CreateAnalysis(ctx context.Context, analysis *models.Analysis) error {
	if err := r.db.WithContext(ctx).Create(analysis).Error; err != nil {
		slog.Error("Failed to create analysis", "error", err, "user_id", analysis.UserID)
		return err
	}
	slog.Info("Analysis created", "analysis_id", analysis.ID, "repository_id", analysis.RepositoryID)
	return nil
}

// GetAnalysis returns the analysis owned by userID, preloading its repository.
func (r *GORMRepository) GetAnalysis(ctx context.Context, id, userID string) (*models.Analysis, error) {
	var analysis models.Analysis
	err := r.db.WithContext(ctx).
		Preload("Repository").
		Where("id = ? AND user_id = ?", id, userID).
		First(&analysis).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get analysis", "error", err, "analysis_id", id)
		return nil, err
	}
	return &analysis, nil
}

// LockAnalysis re-reads an analysis inside a transaction, holding a row
// lock on postgres until the transaction ends.
func (r *GORMRepository) LockAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	var analysis models.Analysis
	if err := r.forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&analysis).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to lock analysis", "error", err, "analysis_id", id)
		return nil, err
	}
	return &analysis, nil
}

// FindActiveAnalysis returns the user's most recently updated pending or
// processing analysis, restricted to repositoryID when it is non-empty.
func (r *GORMRepository) FindActiveAnalysis(ctx context.Context, userID, repositoryID string) (*models.Analysis, error) {
	q := r.db.WithContext(ctx).
		Preload("Repository").
		Where("user_id = ? AND status IN ?", userID, []string{models.AnalysisStatusPending, models.AnalysisStatusProcessing})
	if repositoryID != "" {
		q = q.Where("repository_id = ?", repositoryID)
	}

	var analysis models.Analysis
	if err := q.Order("updated_at DESC").First(&analysis).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to find active analysis", "error", err, "user_id", userID, "repository_id", repositoryID)
		return nil, err
	}
	return &analysis, nil
}

func (r *GORMRepository) ListAnalyses(ctx context.Context, userID string) ([]models.Analysis, error) {
	var analyses []models.Analysis
	err := r.db.WithContext(ctx).
		Preload("Repository").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&analyses).Error
	if err != nil {
		slog.Error("Failed to list analyses", "error", err, "user_id", userID)
		return nil, err
	}
	return analyses, nil
}

// SaveAnalysisState writes the step, status and checkpoint columns.
func (r *GORMRepository) SaveAnalysisState(ctx context.Context, analysis *models.Analysis) error {
	err := r.db.WithContext(ctx).Model(&models.Analysis{}).Where("id = ?", analysis.ID).
		Updates(map[string]interface{}{
			"step":                 analysis.Step,
			"status":               analysis.Status,
			"architecture_context": analysis.ArchitectureContext,
			"completed_at":         analysis.CompletedAt,
			"updated_at":           time.Now(),
		}).Error
	if err != nil {
		slog.Error("Failed to save analysis state", "error", err, "analysis_id", analysis.ID)
		return err
	}
	return nil
}

// Diagram operations

// SaveDiagram records a diagram. Generated diagrams are unique per
// (analysis, type); uploads are unique per (analysis, image url).
func (r *GORMRepository) SaveDiagram(ctx context.Context, diagram *models.Diagram) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "analysis_id"}, {Name: "diagram_type"}, {Name: "slot"}},
		DoUpdates: clause.AssignmentColumns([]string{"tag", "mermaid_code", "image_url", "updated_at"}),
	}).Create(diagram).Error
	if err != nil {
		slog.Error("Failed to save diagram", "error", err, "analysis_id", diagram.AnalysisID)
		return err
	}
	return nil
}

func (r *GORMRepository) GetDiagrams(ctx context.Context, analysisID string) ([]models.Diagram, error) {
	var diagrams []models.Diagram
	if err := r.db.WithContext(ctx).Where("analysis_id = ?", analysisID).Order("created_at").Find(&diagrams).Error; err != nil {
		slog.Error("Failed to get diagrams", "error", err, "analysis_id", analysisID)
		return nil, err
	}
	return diagrams, nil
}

// Report operations
func (r *GORMRepository) SaveReport(ctx context.Context, report *models.Report) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "analysis_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "updated_at"}),
	}).Create(report).Error
	if err != nil {
		slog.Error("Failed to save report", "error", err, "analysis_id", report.AnalysisID)
		return err
	}
	return nil
}

func (r *GORMRepository) GetReport(ctx context.Context, analysisID string) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).Where("analysis_id = ?", analysisID).First(&report).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get report", "error", err, "analysis_id", analysisID)
		return nil, err
	}
	return &report, nil
}
