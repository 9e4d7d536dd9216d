package services

import (
	"strings"
	"testing"

	"github.com/codescribe/backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceHappyPath(t *testing.T) {
	state := PipelineState{}

	state, err := Advance(state, StageInput{Step: StepVision, Content: "vision"})
	require.NoError(t, err)
	state, err = Advance(state, StageInput{Step: StepStructure, Content: "structure"})
	require.NoError(t, err)
	state, err = Advance(state, StageInput{Step: StepVisuals, Content: "visuals"})
	require.NoError(t, err)
	state, err = Advance(state, StageInput{Step: StepBind, Content: "ignored"})
	require.NoError(t, err)

	assert.Equal(t, StepBind, state.Step)
	assert.Equal(t, models.ArchitectureContext{Textual: "vision", Structure: "structure", Visuals: "visuals"}, state.Context)
}

func TestAdvanceRetrySameStep(t *testing.T) {
	state := PipelineState{Step: StepStructure, Context: models.ArchitectureContext{Textual: "v", Structure: "old"}}

	next, err := Advance(state, StageInput{Step: StepStructure, Content: "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", next.Context.Structure)
	assert.Equal(t, "v", next.Context.Textual)
}

func TestAdvanceRejects(t *testing.T) {
	tests := []struct {
		name  string
		state PipelineState
		step  int
		err   error
	}{
		{"out of range low", PipelineState{Step: 1}, 0, ErrInvalidStep},
		{"out of range high", PipelineState{Step: 4}, 5, ErrInvalidStep},
		{"fresh state must begin at vision", PipelineState{}, StepStructure, ErrStepSkipped},
		{"skip a stage", PipelineState{Step: StepVision}, StepVisuals, ErrStepSkipped},
		{"regression", PipelineState{Step: StepVisuals}, StepStructure, ErrStepRegression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Advance(tt.state, StageInput{Step: tt.step, Content: "x"})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.state, next, "state unchanged on rejection")
		})
	}
}

func TestParseBook(t *testing.T) {
	raw := "```json\n{\"title\": \"Hello World\", \"chapters\": [{\"title\": \"Intro\", \"content\": \"# Hi\"}]}\n```"
	book, err := ParseBook(raw)
	require.NoError(t, err)
	assert.Equal(t, "Hello World", book.Title)
	require.Len(t, book.Chapters, 1)
	assert.Equal(t, "# Hi", book.Chapters[0].Content)
}

func TestParseBookInvalid(t *testing.T) {
	for _, raw := range []string{
		"Here is your book: {}",
		`{"title": "", "chapters": [{"title": "a"}]}`,
		`{"title": "T", "chapters": []}`,
		`{"title": "T", "chapters": [{"title": " ", "content": "x"}]}`,
	} {
		_, err := ParseBook(raw)
		assert.ErrorIs(t, err, ErrInvalidBook, "raw %q", raw)
	}
}

func TestFormatInventory(t *testing.T) {
	assert.Equal(t, "(no images supplied)", formatInventory(nil, nil))

	got := formatInventory(
		[]CustomImage{
			{URL: "https://cdn/ui.png", Tag: "Frontend", Caption: "Dashboard"},
			{URL: "https://cdn/misc.png"},
		},
		[]GeneratedDiagram{
			{DiagramType: "sequence", URL: "https://cdn/seq.png", Tag: "Backend"},
			{DiagramType: "component", URL: "https://cdn/comp.png", Tag: "Frontend"},
		},
	)
	want := "## Frontend\n- Dashboard: https://cdn/ui.png\n- component: https://cdn/comp.png\n" +
		"## General\n- User image: https://cdn/misc.png\n" +
		"## Backend\n- sequence: https://cdn/seq.png\n"
	assert.Equal(t, want, got)
}

func TestFormatFileContext(t *testing.T) {
	got := formatFileContext([]models.FileAnalysis{
		{Path: "main.go", Analysis: "entry point"},
		{Path: "server.go", Analysis: "http routes"},
	})
	assert.True(t, strings.Index(got, "### main.go") < strings.Index(got, "### server.go"))
	assert.Contains(t, got, "entry point")
}
