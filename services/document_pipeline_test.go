package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/codescribe/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stageLLM answers each stage with a recognisable string and binds the
// three drafts into a book with one chapter per draft.
func stageLLM() *fakeLLM {
	return &fakeLLM{
		textFn: func(instruction, prompt string) (string, error) {
			switch instruction {
			case visionInstruction:
				return "VISION", nil
			case structureInstruction:
				return "STRUCTURE", nil
			case visualsInstruction:
				return "VISUALS", nil
			}
			return "", errors.New("unexpected instruction")
		},
		jsonFn: func(instruction, prompt string) (string, error) {
			book := Book{Title: "Hello-World Handbook"}
			for _, section := range []string{"Vision", "Structure", "Visuals"} {
				_, rest, _ := strings.Cut(prompt, "# "+section+"\n")
				body, _, _ := strings.Cut(rest, "\n\n#")
				book.Chapters = append(book.Chapters, Chapter{Title: section, Content: body})
			}
			b, err := json.Marshal(book)
			return string(b), err
		},
	}
}

func newTestPipeline(t *testing.T, llm TextGenerator) (*DocumentPipeline, *models.User) {
	t.Helper()
	repo := newTestRepo(t)
	ledger := NewCreditLedger(repo, CreditsConfig{})
	user := createUser(t, repo, "writer@example.com", 2, 2)
	return NewDocumentPipeline(repo, ledger, llm, 0), user
}

var sampleFiles = []models.FileAnalysis{
	{Path: "a.ts", Analysis: "does X"},
	{Path: "b.py", Analysis: "does Y"},
}

func TestPipelineStartConsumesCredit(t *testing.T) {
	llm := stageLLM()
	pipeline, user := newTestPipeline(t, llm)
	ctx := context.Background()

	result, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)
	assert.Equal(t, "VISION", result.Result)
	assert.Equal(t, StepVision, result.Step)

	analyses, err := pipeline.ListAnalyses(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, StepVision, analyses[0].Step)
	assert.Equal(t, models.AnalysisStatusProcessing, analyses[0].Status)
	archCtx, err := analyses[0].Context()
	require.NoError(t, err)
	assert.Equal(t, "VISION", archCtx.Textual)

	stored, err := pipeline.repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DocumentCredits)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].prompt, "octocat/Hello-World")
	assert.Contains(t, calls[0].prompt, "does Y")
}

func TestPipelineStartValidation(t *testing.T) {
	pipeline, user := newTestPipeline(t, stageLLM())
	ctx := context.Background()

	_, err := pipeline.Start(ctx, user.ID, StartRequest{FileAnalyses: sampleFiles})
	assert.ErrorIs(t, err, ErrRepositoryRequired)

	_, err = pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World"})
	assert.ErrorIs(t, err, ErrFileContextRequired)
}

func TestPipelineStartWithoutCredits(t *testing.T) {
	llm := stageLLM()
	pipeline, _ := newTestPipeline(t, llm)
	broke := createUser(t, pipeline.repo, "broke@example.com", 0, 2)

	_, err := pipeline.Start(context.Background(), broke.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	var exhausted *CreditsExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, CreditTypeDocument, exhausted.Type)

	analyses, err := pipeline.ListAnalyses(context.Background(), broke.ID)
	require.NoError(t, err)
	assert.Empty(t, analyses)
	assert.Empty(t, llm.Calls())
}

func TestPipelineFullRun(t *testing.T) {
	llm := stageLLM()
	pipeline, user := newTestPipeline(t, llm)
	ctx := context.Background()

	started, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "https://github.com/octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)
	id := started.AnalysisID

	// Skipping ahead is rejected before any model call.
	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: StepVisuals})
	assert.ErrorIs(t, err, ErrStepSkipped)
	assert.Len(t, llm.Calls(), 1)

	res, err := pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: StepStructure})
	require.NoError(t, err)
	assert.Equal(t, "STRUCTURE", res.Result)
	assert.Contains(t, llm.Calls()[1].prompt, "### a.ts", "stored file context is used when none is sent")

	// No id: located through the repository.
	res, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{
		RepoURL:           "https://github.com/octocat/Hello-World",
		Step:              StepVisuals,
		CustomImages:      []CustomImage{{URL: "https://cdn/ui.png", Tag: "Frontend", Caption: "Dashboard"}},
		GeneratedDiagrams: []GeneratedDiagram{{DiagramType: "sequence", URL: "https://cdn/seq.png", Code: "sequenceDiagram", Tag: "Backend"}},
	})
	require.NoError(t, err)
	assert.Equal(t, id, res.AnalysisID)
	visualsPrompt := llm.Calls()[2].prompt
	assert.Contains(t, visualsPrompt, "## Frontend\n- Dashboard: https://cdn/ui.png")
	assert.Contains(t, visualsPrompt, "VISION")

	snapshot, err := pipeline.Resume(ctx, user.ID, id)
	require.NoError(t, err)
	assert.Equal(t, StepVisuals, snapshot.Step)
	assert.Equal(t, models.ArchitectureContext{Textual: "VISION", Structure: "STRUCTURE", Visuals: "VISUALS"}, snapshot.ArchitectureContext)
	assert.Equal(t, sampleFiles, snapshot.FileContext)
	assert.Equal(t, "Hello-World", snapshot.Repository.Name)
	require.Len(t, snapshot.Diagrams, 2)

	res, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: StepBind})
	require.NoError(t, err)
	require.NotNil(t, res.Book)
	require.Len(t, res.Book.Chapters, 3)
	assert.Equal(t, []Chapter{
		{Title: "Vision", Content: "VISION"},
		{Title: "Structure", Content: "STRUCTURE"},
		{Title: "Visuals", Content: "VISUALS"},
	}, res.Book.Chapters)

	report, book, err := pipeline.GetReport(ctx, user.ID, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello-World Handbook", report.Title)
	assert.Equal(t, res.Book, book)

	snapshot, err = pipeline.Resume(ctx, user.ID, id)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, snapshot.Status)
	assert.Equal(t, StepBind, snapshot.Step)

	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: StepBind})
	assert.ErrorIs(t, err, ErrAnalysisCompleted)
}

func TestPipelineStageFailureKeepsCheckpoint(t *testing.T) {
	llm := stageLLM()
	pipeline, user := newTestPipeline(t, llm)
	ctx := context.Background()

	started, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)

	llm.textFn = func(instruction, prompt string) (string, error) {
		return "", errors.New("upstream 503")
	}
	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: started.AnalysisID, Step: StepStructure})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 503")

	snapshot, err := pipeline.Resume(ctx, user.ID, started.AnalysisID)
	require.NoError(t, err)
	assert.Equal(t, StepVision, snapshot.Step)
	assert.Equal(t, "VISION", snapshot.ArchitectureContext.Textual)
	assert.Empty(t, snapshot.ArchitectureContext.Structure)
}

func TestPipelineInvalidBookNotPersisted(t *testing.T) {
	llm := stageLLM()
	pipeline, user := newTestPipeline(t, llm)
	ctx := context.Background()

	started, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)
	id := started.AnalysisID
	for _, step := range []int{StepStructure, StepVisuals} {
		_, err := pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: step})
		require.NoError(t, err)
	}

	llm.jsonFn = func(instruction, prompt string) (string, error) {
		return "Sure! Here is the book.", nil
	}
	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: StepBind})
	assert.ErrorIs(t, err, ErrInvalidBook)

	_, _, err = pipeline.GetReport(ctx, user.ID, id)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestPipelineAdvanceOtherUsersAnalysis(t *testing.T) {
	pipeline, owner := newTestPipeline(t, stageLLM())
	intruder := createUser(t, pipeline.repo, "intruder@example.com", 2, 2)
	ctx := context.Background()

	started, err := pipeline.Start(ctx, owner.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)

	_, err = pipeline.Advance(ctx, intruder.ID, AdvanceRequest{AnalysisID: started.AnalysisID, Step: StepStructure})
	assert.ErrorIs(t, err, ErrAnalysisNotFound)

	// The heuristic lookup is scoped to the caller too.
	_, err = pipeline.Advance(ctx, intruder.ID, AdvanceRequest{RepoURL: "octocat/Hello-World", Step: StepStructure})
	assert.ErrorIs(t, err, ErrAnalysisNotFound)

	_, err = pipeline.Resume(ctx, intruder.ID, started.AnalysisID)
	assert.ErrorIs(t, err, ErrAnalysisNotFound)
}

func TestPipelineAdvanceWithAggregatedContext(t *testing.T) {
	llm := stageLLM()
	pipeline, user := newTestPipeline(t, llm)
	ctx := context.Background()

	started, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)

	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{
		AnalysisID: started.AnalysisID,
		Step:       StepStructure,
		Context:    json.RawMessage(`"pre-aggregated context"`),
	})
	require.NoError(t, err)
	assert.Contains(t, llm.Calls()[1].prompt, "pre-aggregated context")
}

func TestPipelineRetriesVisionAfterFailedStart(t *testing.T) {
	llm := stageLLM()
	visionText := llm.textFn
	llm.textFn = func(instruction, prompt string) (string, error) {
		return "", errors.New("upstream 503")
	}
	pipeline, user := newTestPipeline(t, llm)
	ctx := context.Background()

	_, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.Error(t, err)

	analyses, err := pipeline.ListAnalyses(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	id := analyses[0].ID

	// Structure cannot run on an empty vision.
	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: StepStructure})
	assert.ErrorIs(t, err, ErrVisionMissing)

	llm.textFn = visionText
	res, err := pipeline.Advance(ctx, user.ID, AdvanceRequest{RepoURL: "octocat/Hello-World", Step: StepVision})
	require.NoError(t, err)
	assert.Equal(t, id, res.AnalysisID)
	assert.Equal(t, "VISION", res.Result)
	calls := llm.Calls()
	assert.Contains(t, calls[len(calls)-1].prompt, "a.ts", "vision re-runs from the stored file context")

	for _, step := range []int{StepStructure, StepVisuals, StepBind} {
		res, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: id, Step: step})
		require.NoError(t, err)
	}
	require.NotNil(t, res.Book)
	assert.Equal(t, Chapter{Title: "Vision", Content: "VISION"}, res.Book.Chapters[0])

	stored, err := pipeline.repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.DocumentCredits, "the retry is free")
}

func TestPipelineVisionCannotRerunAfterStructure(t *testing.T) {
	pipeline, user := newTestPipeline(t, stageLLM())
	ctx := context.Background()

	started, err := pipeline.Start(ctx, user.ID, StartRequest{RepoURL: "octocat/Hello-World", FileAnalyses: sampleFiles})
	require.NoError(t, err)
	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: started.AnalysisID, Step: StepStructure})
	require.NoError(t, err)

	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: started.AnalysisID, Step: StepVision})
	assert.ErrorIs(t, err, ErrStepRegression)

	_, err = pipeline.Advance(ctx, user.ID, AdvanceRequest{AnalysisID: started.AnalysisID, Step: 0})
	assert.ErrorIs(t, err, ErrInvalidStep)
}
