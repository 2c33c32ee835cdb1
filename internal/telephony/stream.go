package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Media-stream event names. Every WebSocket message is one JSON envelope
// keyed by "event"; the matching payload field is populated per type.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// Media-format encodings a stream can negotiate in its start event.
const (
	EncodingMuLaw = "audio/x-mulaw"
	EncodingL16   = "audio/l16"
	EncodingOpus  = "audio/x-opus"
)

// Event is one media-stream wire message in either direction.
type Event struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`

	// Protocol and Version are only present on the connected event.
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
}

// MediaFormat describes the audio encoding negotiated for a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Normalize fills carrier defaults for fields the start event left empty.
func (f MediaFormat) Normalize() MediaFormat {
	if f.Encoding == "" {
		f.Encoding = EncodingMuLaw
	}
	if f.SampleRate <= 0 {
		f.SampleRate = 8000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// StartPayload carries the stream identity and media format.
type StartPayload struct {
	AccountSID       string            `json:"accountSid,omitempty"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64-encoded audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Audio decodes the chunk payload.
func (m MediaPayload) Audio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode media payload: %w", err)
	}
	return data, nil
}

// StopPayload identifies the call whose stream ended.
type StopPayload struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid"`
}

// MarkPayload names a playback marker.
type MarkPayload struct {
	Name string `json:"name"`
}

// ParseEvent decodes one wire message.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("telephony: parse stream event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, errors.New("telephony: stream event is missing the event field")
	}
	return ev, nil
}

// MediaFrame builds an outbound audio frame for the stream.
func MediaFrame(streamSID string, audio []byte) Event {
	return Event{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// MarkFrame builds an outbound playback marker. The carrier echoes it back
// once every media frame queued before it has been played.
func MarkFrame(streamSID, name string) Event {
	return Event{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	}
}

// ClearFrame tells the carrier to drop any outbound audio it has not yet
// played. Sent before speaking over an interrupted reply.
func ClearFrame(streamSID string) Event {
	return Event{Event: EventClear, StreamSID: streamSID}
}
