package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// chatRequest is one driver-app text message.
type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
}

// chatResponse is the dialogue outcome of one text turn.
type chatResponse struct {
	Text            string `json:"text"`
	ShouldEnd       bool   `json:"should_end"`
	NeedsEscalation bool   `json:"needs_escalation"`
}

// handleChat drives one text turn. Unlike the voice endpoints, internal
// dialogue failures surface as a 500 here; a text client has no spoken
// acknowledgement to fall back on and retries with a fresh message.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "malformed JSON body"})
		s.metrics.RecordTurn(ctx, "text", "invalid", time.Since(start).Seconds())
		return
	}

	// An omitted language keeps whatever the session already negotiated;
	// only an explicit field switches it.
	var lang dialog.Language
	if req.Language != "" {
		lang = dialog.ParseLanguage(req.Language)
	}

	turn, err := s.orc.HandleText(ctx, req.ConversationID, req.Text, lang)
	if err != nil {
		outcome := s.writeTurnError(ctx, w, err)
		s.metrics.RecordTurn(ctx, "text", outcome, time.Since(start).Seconds())
		return
	}

	outcome := "ok"
	if turn.NeedsEscalation {
		outcome = "escalated"
	}
	s.metrics.RecordTurn(ctx, "text", outcome, time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, chatResponse{
		Text:            turn.Reply,
		ShouldEnd:       turn.ShouldEnd,
		NeedsEscalation: turn.NeedsEscalation,
	})
}
