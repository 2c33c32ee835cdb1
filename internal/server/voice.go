package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// voiceRequest is one recorded clip from the driver app.
type voiceRequest struct {
	ConversationID string `json:"conversation_id"`
	AudioData      string `json:"audio_data"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	Language       string `json:"language,omitempty"`
}

// voiceResponse carries the transcript, the reply text, and the synthesized
// reply clip. Audio is empty when synthesis failed; the app then falls back
// to on-device speech over response_text.
type voiceResponse struct {
	TranscribedText string `json:"transcribed_text,omitempty"`
	ResponseText    string `json:"response_text"`
	Audio           string `json:"audio,omitempty"`
	SampleRate      int    `json:"sample_rate,omitempty"`
	MIMEType        string `json:"mime_type,omitempty"`
	ProactivePrompt bool   `json:"proactive_prompt"`
	ShouldEnd       bool   `json:"should_end"`
	NeedsEscalation bool   `json:"needs_escalation"`
}

// handleVoice runs one clip through the voice pipeline. The pipeline records
// the turn metric for this channel itself.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "malformed JSON body"})
		return
	}
	if req.AudioData == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "audio_data is required"})
		return
	}
	clip, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "audio_data is not valid base64"})
		return
	}

	res, err := s.pipe.ProcessClip(ctx, req.ConversationID, clip, req.SampleRate, s.language(req.Language))
	if err != nil {
		s.writeTurnError(ctx, w, err)
		return
	}

	out := voiceResponse{
		TranscribedText: res.Transcript,
		ResponseText:    res.Turn.Reply,
		SampleRate:      res.SampleRate,
		MIMEType:        res.MIMEType,
		ProactivePrompt: res.Turn.ProactivePrompt,
		ShouldEnd:       res.Turn.ShouldEnd,
		NeedsEscalation: res.Turn.NeedsEscalation,
	}
	if len(res.Audio) > 0 {
		out.Audio = base64.StdEncoding.EncodeToString(res.Audio)
	}
	writeJSON(w, http.StatusOK, out)
}
