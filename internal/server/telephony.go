package server

import (
	"log/slog"
	"net/http"

	"github.com/HeckSmart/multilingual-voiceagent/internal/telephony"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// connectLines is the short line spoken by the webhook while the carrier
// bridges the call onto the media stream. The stream speaks the actual
// greeting so it lands in the conversation history.
var connectLines = map[dialog.Language]string{
	dialog.LanguageEN: "Connecting you to the driver assistant.",
	dialog.LanguageHI: "आपको ड्राइवर सहायक से जोड़ा जा रहा है।",
}

// handleTelephonyCall answers the carrier's inbound-call webhook with an
// instruction document that bridges the call onto the media-stream endpoint.
func (s *Server) handleTelephonyCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	if callSID == "" {
		http.Error(w, "CallSid is required", http.StatusBadRequest)
		return
	}

	lang := s.defaultLang
	streamURL := s.streamURL
	if streamURL == "" {
		streamURL = "wss://" + r.Host + "/telephony/media-stream-ws"
	}

	body, err := telephony.Answer(connectLines[lang], lang, streamURL).Render()
	if err != nil {
		s.log.ErrorContext(r.Context(), "render call document", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.log.InfoContext(r.Context(), "inbound call",
		slog.String("call_sid", callSID),
		slog.String("from", r.FormValue("From")),
		slog.String("stream_url", streamURL),
	)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.log.WarnContext(r.Context(), "write call document", slog.String("error", err.Error()))
	}
}
