package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	ws "github.com/codescribe/backend/websocket"
)

// TranscriptRelay persists transcript lines arriving over the interview
// websocket and rebroadcasts them to the interview room.
type TranscriptRelay struct {
	interviews *InterviewService
	hub        *ws.Hub
}

func NewTranscriptRelay(interviews *InterviewService, hub *ws.Hub) *TranscriptRelay {
	return &TranscriptRelay{interviews: interviews, hub: hub}
}

func (h *TranscriptRelay) HandleMessage(client *ws.Client, messageBytes []byte) {
	var msg ws.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Error("Failed to unmarshal WebSocket message", "error", err)
		client.SendMessage(ws.Message{Type: "error", Content: "invalid message"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Type {
	case "transcript":
		line, err := h.interviews.RecordTranscript(ctx, client.InterviewID, msg.Speaker, msg.Content)
		if err != nil {
			slog.Warn("Transcript rejected", "interview_id", client.InterviewID, "error", err)
			client.SendMessage(ws.Message{Type: "error", Content: err.Error()})
			return
		}
		h.hub.Broadcast(client.InterviewID, ws.Message{
			Type:      "transcript",
			Speaker:   line.Speaker,
			Content:   line.Content,
			TurnOrder: line.TurnOrder,
		})

	case "end":
		var userID *string
		if client.UserID != "" {
			userID = &client.UserID
		}
		if _, err := h.interviews.Complete(ctx, userID, client.InterviewID, 0); err != nil {
			slog.Error("Failed to complete interview", "interview_id", client.InterviewID, "error", err)
			client.SendMessage(ws.Message{Type: "error", Content: err.Error()})
			return
		}
		h.hub.Broadcast(client.InterviewID, ws.Message{Type: "end"})
		slog.Info("Interview ended over websocket", "interview_id", client.InterviewID)

	default:
		slog.Warn("Unknown message type", "type", msg.Type, "interview_id", client.InterviewID)
	}
}
