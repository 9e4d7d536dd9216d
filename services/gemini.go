package services

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

const DefaultModelName = "gemini-2.5-flash"

// TextGenerator is the LLM surface the pipeline, diagram generator and
// interview feedback depend on.
type TextGenerator interface {
	// GenerateText returns free-form text.
	GenerateText(ctx context.Context, systemInstruction, prompt string) (string, error)
	// GenerateJSON asks for an application/json response and returns it raw.
	GenerateJSON(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// GeminiService handles all Gemini AI operations
type GeminiService struct {
	genaiClient *genai.Client
	model       string
}

func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiService{genaiClient: genaiClient, model: model}, nil
}

func (g *GeminiService) GenerateText(ctx context.Context, systemInstruction, prompt string) (string, error) {
	return g.generate(ctx, systemInstruction, prompt, "")
}

func (g *GeminiService) GenerateJSON(ctx context.Context, systemInstruction, prompt string) (string, error) {
	return g.generate(ctx, systemInstruction, prompt, "application/json")
}

func (g *GeminiService) generate(ctx context.Context, systemInstruction, prompt, mimeType string) (string, error) {
	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	config := &genai.GenerateContentConfig{ResponseMIMEType: mimeType}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := result.Text()
	slog.Debug("Generated content", "model", g.model, "json", mimeType != "", "response_length", len(text))
	return text, nil
}
