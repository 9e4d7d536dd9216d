package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codescribe/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diagramLLM returns a mermaid payload naming the requested type.
func diagramLLM() *fakeLLM {
	return &fakeLLM{
		jsonFn: func(instruction, prompt string) (string, error) {
			_, rest, _ := strings.Cut(prompt, "Diagram type: ")
			diagramType, _, _ := strings.Cut(rest, "\n")
			return fmt.Sprintf(`{"mermaid": "graph TD; %s"}`, strings.ReplaceAll(diagramType, " ", "_")), nil
		},
	}
}

func newTestDiagramGenerator(llm TextGenerator, renderer DiagramRenderer, uploader *fakeUploader) *DiagramGenerator {
	g := NewDiagramGenerator(llm, renderer, uploader, nil, 0)
	g.now = func() time.Time { return time.UnixMilli(1740830400000) }
	return g
}

func TestGenerateDiagram(t *testing.T) {
	uploader := newFakeUploader()
	g := newTestDiagramGenerator(diagramLLM(), &fakeRenderer{}, uploader)

	res, err := g.GenerateDiagram(context.Background(), "", DiagramRequest{RepoName: "octocat/Hello World", DiagramType: "Sequence Diagram", Context: "files"})
	require.NoError(t, err)
	assert.Equal(t, "graph TD; Sequence_Diagram", res.Code)
	assert.Equal(t, "https://cdn.example.com/diagrams/octocat-Hello-World_Sequence-Diagram_1740830400000.png", res.URL)
	assert.Equal(t, []byte("PNG:graph TD; Sequence_Diagram"), uploader.objects["diagrams/octocat-Hello-World_Sequence-Diagram_1740830400000.png"])
}

func TestGenerateDiagramStripsFences(t *testing.T) {
	llm := &fakeLLM{jsonFn: func(string, string) (string, error) {
		return `{"code": "` + "```mermaid\\nerDiagram\\n```" + `"}`, nil
	}}
	g := newTestDiagramGenerator(llm, &fakeRenderer{}, newFakeUploader())

	res, err := g.GenerateDiagram(context.Background(), "", DiagramRequest{RepoName: "r", DiagramType: "erd"})
	require.NoError(t, err)
	assert.Equal(t, "erDiagram", res.Code)
}

func TestGenerateDiagramErrors(t *testing.T) {
	ctx := context.Background()

	g := newTestDiagramGenerator(diagramLLM(), &fakeRenderer{}, newFakeUploader())
	_, err := g.GenerateDiagram(ctx, "", DiagramRequest{RepoName: "r"})
	assert.ErrorIs(t, err, ErrDiagramTypeRequired)

	noPayload := &fakeLLM{jsonFn: func(string, string) (string, error) { return `{"n": 1}`, nil }}
	g = newTestDiagramGenerator(noPayload, &fakeRenderer{}, newFakeUploader())
	_, err = g.GenerateDiagram(ctx, "", DiagramRequest{RepoName: "r", DiagramType: "flow"})
	assert.ErrorIs(t, err, ErrNoPayload)

	g = newTestDiagramGenerator(diagramLLM(), &fakeRenderer{failOn: "flow"}, newFakeUploader())
	_, err = g.GenerateDiagram(ctx, "", DiagramRequest{RepoName: "r", DiagramType: "flow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to render diagram")

	failing := newFakeUploader()
	failing.err = errors.New("bucket gone")
	g = newTestDiagramGenerator(diagramLLM(), &fakeRenderer{}, failing)
	_, err = g.GenerateDiagram(ctx, "", DiagramRequest{RepoName: "r", DiagramType: "flow"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")

	g = NewDiagramGenerator(nil, &fakeRenderer{}, newFakeUploader(), nil, 0)
	_, err = g.GenerateDiagram(ctx, "", DiagramRequest{RepoName: "r", DiagramType: "flow"})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestGenerateDiagramsAreIndependent(t *testing.T) {
	uploader := newFakeUploader()
	g := newTestDiagramGenerator(diagramLLM(), &fakeRenderer{failOn: "ERD_Diagram"}, uploader)

	outcomes := g.GenerateDiagrams(context.Background(), "", "octocat/Hello-World", "files",
		[]string{"Sequence Diagram", "ERD Diagram", "Sequence Diagram"})

	require.Len(t, outcomes, 2)
	seq := outcomes["Sequence Diagram"]
	require.NoError(t, seq.Err)
	assert.Equal(t, "graph TD; Sequence_Diagram", seq.Result.Code)

	erd := outcomes["ERD Diagram"]
	require.Error(t, erd.Err)
	assert.Nil(t, erd.Result)

	assert.Equal(t, []string{"diagrams/octocat-Hello-World_Sequence-Diagram_1740830400000.png"}, uploader.Keys())
}

func TestGenerateDiagramRecordsAgainstAnalysis(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := createUser(t, repo, "diagrams@example.com", 2, 2)
	other := createUser(t, repo, "other@example.com", 2, 2)

	stored, _, err := NewRepositoryResolver(repo).Upsert(ctx, "octocat/Hello-World")
	require.NoError(t, err)
	analysis := &models.Analysis{UserID: user.ID, RepositoryID: stored.ID, Status: models.AnalysisStatusProcessing, Step: StepVision}
	require.NoError(t, repo.CreateAnalysis(ctx, analysis))

	g := NewDiagramGenerator(diagramLLM(), &fakeRenderer{}, newFakeUploader(), repo, 0)

	_, err = g.GenerateDiagram(ctx, other.ID, DiagramRequest{RepoName: "r", DiagramType: "sequence", AnalysisID: analysis.ID})
	assert.ErrorIs(t, err, ErrAnalysisNotFound)

	for i := 0; i < 2; i++ {
		_, err = g.GenerateDiagram(ctx, user.ID, DiagramRequest{RepoName: "r", DiagramType: "sequence", AnalysisID: analysis.ID})
		require.NoError(t, err)
	}
	_, err = g.GenerateDiagram(ctx, user.ID, DiagramRequest{RepoName: "r", DiagramType: "erd", AnalysisID: analysis.ID})
	require.NoError(t, err)

	diagrams, err := repo.GetDiagrams(ctx, analysis.ID)
	require.NoError(t, err)
	require.Len(t, diagrams, 2, "one row per diagram type")
	types := []string{diagrams[0].DiagramType, diagrams[1].DiagramType}
	assert.ElementsMatch(t, []string{"sequence", "erd"}, types)
}

func TestMermaidInkRenderer(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if strings.Contains(r.URL.Path, "broken") {
			http.Error(w, "bad diagram", http.StatusBadRequest)
			return
		}
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	renderer := NewMermaidInkRenderer(server.URL + "/img")
	png, err := renderer.Render(context.Background(), "graph TD")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), png)
	assert.Equal(t, "/img/Z3JhcGggVEQ=", gotPath)
	assert.Equal(t, "type=png", gotQuery)

	renderer = NewMermaidInkRenderer(server.URL + "/broken/")
	_, err = renderer.Render(context.Background(), "graph TD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
