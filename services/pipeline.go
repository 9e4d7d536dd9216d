package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codescribe/backend/models"
)

// Pipeline stages.
const (
	StepVision    = 1
	StepStructure = 2
	StepVisuals   = 3
	StepBind      = 4
)

var stageNames = map[int]string{
	StepVision:    "vision",
	StepStructure: "structure",
	StepVisuals:   "visuals",
	StepBind:      "bind",
}

// PipelineState is the resumable checkpoint of one analysis.
type PipelineState struct {
	Step    int
	Context models.ArchitectureContext
}

// StageInput is the output of a stage about to be recorded.
type StageInput struct {
	Step    int
	Content string
}

// Advance records a stage result. A stage may be retried or followed by the
// next one; earlier narratives are always carried over.
func Advance(state PipelineState, in StageInput) (PipelineState, error) {
	if in.Step < StepVision || in.Step > StepBind {
		return state, ErrInvalidStep
	}
	current := state.Step
	if current < StepVision {
		current = StepVision
		if in.Step != StepVision {
			return state, ErrStepSkipped
		}
	}
	switch {
	case in.Step < current:
		return state, ErrStepRegression
	case in.Step > current+1:
		return state, ErrStepSkipped
	}

	next := PipelineState{Step: in.Step, Context: state.Context}
	switch in.Step {
	case StepVision:
		next.Context.Textual = in.Content
	case StepStructure:
		next.Context.Structure = in.Content
	case StepVisuals:
		next.Context.Visuals = in.Content
	}
	return next, nil
}

// Chapter is one section of a bound book.
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Book is the strict JSON document produced by the bind stage.
type Book struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

// ParseBook decodes and validates the bind output. It tolerates a code fence
// around the object but nothing else.
func ParseBook(raw string) (*Book, error) {
	var book Book
	if err := json.Unmarshal([]byte(StripCodeFences(raw)), &book); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBook, err)
	}
	if strings.TrimSpace(book.Title) == "" {
		return nil, fmt.Errorf("%w: missing title", ErrInvalidBook)
	}
	if len(book.Chapters) == 0 {
		return nil, fmt.Errorf("%w: no chapters", ErrInvalidBook)
	}
	for i, ch := range book.Chapters {
		if strings.TrimSpace(ch.Title) == "" {
			return nil, fmt.Errorf("%w: chapter %d has no title", ErrInvalidBook, i+1)
		}
	}
	return &book, nil
}

// CustomImage is a user uploaded image in the diagram inventory.
type CustomImage struct {
	URL     string `json:"url"`
	Tag     string `json:"tag"`
	Caption string `json:"caption,omitempty"`
}

// GeneratedDiagram is a rendered diagram in the diagram inventory.
type GeneratedDiagram struct {
	DiagramType string `json:"diagramType"`
	URL         string `json:"url"`
	Code        string `json:"code,omitempty"`
	Tag         string `json:"tag"`
}

const untaggedSection = "General"

// formatInventory groups the inventory by tag, keeping first-seen order.
func formatInventory(images []CustomImage, diagrams []GeneratedDiagram) string {
	type entry struct{ label, url string }
	var order []string
	groups := map[string][]entry{}
	add := func(tag string, e entry) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			tag = untaggedSection
		}
		if _, ok := groups[tag]; !ok {
			order = append(order, tag)
		}
		groups[tag] = append(groups[tag], e)
	}
	for _, img := range images {
		label := img.Caption
		if label == "" {
			label = "User image"
		}
		add(img.Tag, entry{label: label, url: img.URL})
	}
	for _, d := range diagrams {
		add(d.Tag, entry{label: d.DiagramType, url: d.URL})
	}

	if len(order) == 0 {
		return "(no images supplied)"
	}
	var b strings.Builder
	for _, tag := range order {
		fmt.Fprintf(&b, "## %s\n", tag)
		for _, e := range groups[tag] {
			fmt.Fprintf(&b, "- %s: %s\n", e.label, e.url)
		}
	}
	return b.String()
}

// formatFileContext aggregates per-file analyses into one prompt block.
func formatFileContext(files []models.FileAnalysis) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "### %s\n%s\n\n", f.Path, f.Analysis)
	}
	return b.String()
}

const visionInstruction = `You are a technical writer producing the opening of a book about a software repository.
Using the per-file analyses, write a markdown narrative describing the project's purpose, the problem it
solves, its main capabilities and the technologies it is built with.`

const structureInstruction = `You are a technical writer documenting a software repository.
Using the per-file analyses, write a markdown section containing an annotated file tree of the important
directories and files followed by a description of the architecture: layers, modules, data flow and
external integrations.`

const visualsInstruction = `You are a technical writer adding figures to a book about a software repository.
Write a markdown narrative that walks through the system and embeds the supplied images with markdown image
syntax, placing each under its section. Only reference the image links listed in the inventory. Do not
invent, describe or emit any new diagrams or diagram source.`

const bindInstruction = `You are an editor binding the drafts of a technical book into its final form.
Return a single JSON object of the form {"title": string, "chapters": [{"title": string, "content": string}]}
where content is markdown. Return only the JSON object with no surrounding prose and no code fences.`

func visionPrompt(repoName, fileContext string) string {
	return fmt.Sprintf("Repository: %s\n\nFile analyses:\n\n%s", repoName, fileContext)
}

func structurePrompt(repoName, fileContext string) string {
	return fmt.Sprintf("Repository: %s\n\nFile analyses:\n\n%s", repoName, fileContext)
}

func visualsPrompt(repoName string, ctx models.ArchitectureContext, inventory string) string {
	return fmt.Sprintf("Repository: %s\n\nOverview:\n%s\n\nArchitecture:\n%s\n\nImage inventory:\n%s",
		repoName, ctx.Textual, ctx.Structure, inventory)
}

func bindPrompt(repoName string, ctx models.ArchitectureContext) string {
	return fmt.Sprintf("Repository: %s\n\n# Vision\n%s\n\n# Structure\n%s\n\n# Visuals\n%s",
		repoName, ctx.Textual, ctx.Structure, ctx.Visuals)
}
