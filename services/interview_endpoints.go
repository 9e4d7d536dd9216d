package services

import (
	"log/slog"
	"net/http"

	"github.com/codescribe/backend/models"
	ws "github.com/codescribe/backend/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// InterviewEndpoints accept both signed-in and anonymous callers; routes
// are mounted behind OptionalMiddleware.
type InterviewEndpoints struct {
	interviews *InterviewService
	hub        *ws.Hub
	relay      *TranscriptRelay
	upgrader   websocket.Upgrader
}

type CompleteInterviewRequest struct {
	Duration int `json:"duration"`
}

func NewInterviewEndpoints(interviews *InterviewService, hub *ws.Hub, upgrader websocket.Upgrader) *InterviewEndpoints {
	return &InterviewEndpoints{
		interviews: interviews,
		hub:        hub,
		relay:      NewTranscriptRelay(interviews, hub),
		upgrader:   upgrader,
	}
}

func (e *InterviewEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/interviews", func(r chi.Router) {
		r.Post("/", e.CreateHandler)
		r.Post("/feedback", e.FeedbackHandler)
		r.Post("/{id}/complete", e.CompleteHandler)
		r.Get("/{id}/ws", e.WebSocketHandler)
	})
}

func optionalUserID(r *http.Request) *string {
	if user := userFromContext(r.Context()); user != nil {
		id := user.ID
		return &id
	}
	return nil
}

func (e *InterviewEndpoints) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateInterviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := e.interviews.CreateSession(r.Context(), optionalUserID(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (e *InterviewEndpoints) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	feedback, err := e.interviews.GenerateFeedback(r.Context(), optionalUserID(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": feedback})
}

func (e *InterviewEndpoints) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req CompleteInterviewRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	interview, err := e.interviews.Complete(r.Context(), optionalUserID(r), chi.URLParam(r, "id"), req.Duration)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interview": interview})
}

// WebSocketHandler joins the caller to the interview's transcript room.
func (e *InterviewEndpoints) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID := optionalUserID(r)
	interview, err := e.interviews.GetInterview(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if interview.Status != models.InterviewStatusActive {
		http.Error(w, "Interview is not active", http.StatusConflict)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	uid := ""
	if userID != nil {
		uid = *userID
	}
	client := e.hub.RegisterClient(conn, uid, interview.ID)
	client.MessageHandler = e.relay.HandleMessage
	slog.Info("WebSocket connection established", "interview_id", interview.ID, "user_id", uid)

	go client.WritePump()
	client.ReadPump()
}
