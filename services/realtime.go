package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TokenIssuer provisions ephemeral credentials for a realtime voice session.
type TokenIssuer interface {
	CreateSession(ctx context.Context, instructions string) (*RealtimeSession, error)
}

// RealtimeSession is what the browser needs to open the voice connection.
type RealtimeSession struct {
	SessionID    string `json:"sessionId"`
	Model        string `json:"model"`
	ClientSecret string `json:"clientSecret"`
	ExpiresAt    int64  `json:"expiresAt"`
}

type RealtimeService struct {
	apiKey      string
	model       string
	voice       string
	sessionsURL string
	client      *http.Client
}

type realtimeSessionRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions"`
}

type realtimeSessionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func NewRealtimeService(cfg RealtimeConfig) *RealtimeService {
	return &RealtimeService{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		voice:       cfg.Voice,
		sessionsURL: cfg.SessionsURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (r *RealtimeService) CreateSession(ctx context.Context, instructions string) (*RealtimeSession, error) {
	request := realtimeSessionRequest{
		Model:        r.model,
		Voice:        r.voice,
		Instructions: instructions,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.sessionsURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("realtime API error: %d - %s", resp.StatusCode, string(body))
	}

	var out realtimeSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if out.ClientSecret.Value == "" {
		return nil, fmt.Errorf("realtime API returned no client secret")
	}

	slog.Info("Realtime session created", "session_id", out.ID, "model", out.Model)
	return &RealtimeSession{
		SessionID:    out.ID,
		Model:        out.Model,
		ClientSecret: out.ClientSecret.Value,
		ExpiresAt:    out.ClientSecret.ExpiresAt,
	}, nil
}
