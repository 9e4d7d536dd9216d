package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codescribe/backend/models"
	"golang.org/x/sync/errgroup"
)

// RepoFile is a file handed to the analyzer. Content may be empty when the
// analyzer is expected to fetch it from the source.
type RepoFile struct {
	Path    string
	Content string
}

// ProgressFunc is called after each file, whether it succeeded or not.
type ProgressFunc func(done, total int, path string)

const fileAnalysisInstruction = `You are a senior engineer documenting an unfamiliar codebase.
Describe what the given file does, its main responsibilities, the important types or functions it
defines, and how it likely relates to the rest of the project. Answer in at most two short paragraphs.`

// FileAnalyzer produces a natural-language description for each source file.
type FileAnalyzer struct {
	llm         TextGenerator
	source      RepoSource
	concurrency int
}

func NewFileAnalyzer(llm TextGenerator, source RepoSource, concurrency int) *FileAnalyzer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &FileAnalyzer{llm: llm, source: source, concurrency: concurrency}
}

// AnalyzeFile describes one file. Asset-like paths short-circuit to a canned
// string without calling the model.
func (a *FileAnalyzer) AnalyzeFile(ctx context.Context, file RepoFile) (models.FileAnalysis, error) {
	if IsAssetPath(file.Path) {
		fileAnalysisTotal.WithLabelValues("skipped").Inc()
		return models.FileAnalysis{Path: file.Path, Analysis: SkippedAssetAnalysis}, nil
	}

	prompt := fmt.Sprintf("File: %s\n\n```\n%s\n```", file.Path, truncateContent(file.Content, MaxAnalysisChars))
	text, err := a.llm.GenerateText(ctx, fileAnalysisInstruction, prompt)
	if err != nil {
		fileAnalysisTotal.WithLabelValues("failed").Inc()
		return models.FileAnalysis{}, fmt.Errorf("failed to analyze %s: %w", file.Path, err)
	}
	fileAnalysisTotal.WithLabelValues("analyzed").Inc()
	return models.FileAnalysis{Path: file.Path, Analysis: text}, nil
}

// AnalyzeFiles analyzes files with bounded concurrency. A file that fails is
// logged and left out; the result keeps input order.
func (a *FileAnalyzer) AnalyzeFiles(ctx context.Context, files []RepoFile, progress ProgressFunc) []models.FileAnalysis {
	results := make([]*models.FileAnalysis, len(files))

	var mu sync.Mutex
	done := 0
	report := func(path string) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		progress(done, len(files), path)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, file := range files {
		g.Go(func() error {
			defer report(file.Path)
			analysis, err := a.AnalyzeFile(gctx, file)
			if err != nil {
				slog.Warn("Skipping file after failed analysis", "path", file.Path, "error", err)
				return nil
			}
			results[i] = &analysis
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.FileAnalysis, 0, len(files))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// AnalyzeRepository lists a repository, filters it to source files (or the
// requested subset) and analyzes each one. Requested paths pass the same
// source filter, but asset files among them are kept and answered without a
// fetch. Files that cannot be fetched are skipped like files that fail
// analysis.
func (a *FileAnalyzer) AnalyzeRepository(ctx context.Context, ref RepoRef, paths []string, progress ProgressFunc) ([]models.FileAnalysis, error) {
	if a.source == nil {
		return nil, ErrServiceUnavailable
	}
	if len(paths) == 0 {
		all, err := a.source.ListFiles(ctx, ref.Owner, ref.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to list repository files: %w", err)
		}
		paths = FilterSourceFiles(all)
	} else {
		requested := paths
		paths = nil
		for _, p := range requested {
			if isSourceFile(p) {
				paths = append(paths, p)
			} else {
				slog.Debug("Skipping requested non-source file", "path", p)
			}
		}
	}

	files := make([]RepoFile, len(paths))
	fetched := make([]bool, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range paths {
		files[i] = RepoFile{Path: p}
		if IsAssetPath(p) {
			fetched[i] = true
			continue
		}
		g.Go(func() error {
			content, err := a.source.FetchFile(gctx, ref.Owner, ref.Name, p)
			if err != nil {
				slog.Warn("Skipping file that could not be fetched", "path", p, "error", err)
				return nil
			}
			files[i].Content = content
			fetched[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var ready []RepoFile
	for i, f := range files {
		if fetched[i] {
			ready = append(ready, f)
		}
	}
	return a.AnalyzeFiles(ctx, ready, progress), nil
}
