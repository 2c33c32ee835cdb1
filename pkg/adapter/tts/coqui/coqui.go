// Package coqui provides a synthesizer backed by a locally-running Coqui TTS
// server. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body and a speaker
//     reference WAV.
//
// Both servers answer with a WAV file per utterance. The provider strips the
// RIFF container and hands raw PCM upward so the telephony layer can resample
// and re-encode for the carrier.
//
// Typical usage (standard server):
//
//	p, err := coqui.New("http://localhost:5002",
//	    coqui.WithTimeout(15*time.Second),
//	)
//	res, err := p.Synthesize(ctx, tts.Request{Text: "Station A is nearest.", Language: dialog.LanguageEN})
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithSpeaker sets the speaker identifier: a speaker_id for the standard
// server, or a speaker reference WAV path for XTTS mode (where it is
// required).
func WithSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.speaker = speaker
	}
}

// Provider implements tts.Provider backed by a locally-running Coqui TTS
// server. It is safe for concurrent use.
type Provider struct {
	serverURL  string
	speaker    string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty. Functional
// options may override the per-request timeout, speaker, and API mode.
// The default API mode is APIModeStandard.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize renders one reply, dispatching to the configured API mode. The
// returned Result carries raw PCM at the model's native rate.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Result{}, errors.New("coqui: text must not be empty")
	}

	var (
		wav []byte
		err error
	)
	if p.apiMode == APIModeXTTS {
		wav, err = p.synthesizeXTTS(ctx, req)
	} else {
		wav, err = p.synthesizeStandard(ctx, req)
	}
	if err != nil {
		return tts.Result{}, err
	}

	info, err := parseWAV(wav)
	if err != nil {
		return tts.Result{}, err
	}

	return tts.Result{
		Audio:      wav[info.DataOffset:],
		SampleRate: info.SampleRate,
	}, nil
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode)
// and returns the WAV response body.
func (p *Provider) synthesizeXTTS(ctx context.Context, req tts.Request) ([]byte, error) {
	if p.speaker == "" {
		return nil, errors.New("coqui: speaker must not be empty (required for XTTS mode)")
	}

	body := ttsRequest{
		Text:       req.Text,
		SpeakerWav: p.speaker,
		Language:   req.Language.String(),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// synthesizeStandard performs a single GET /api/tts request (standard server
// mode) using URL query parameters and returns the WAV response body.
func (p *Provider) synthesizeStandard(ctx context.Context, req tts.Request) ([]byte, error) {
	params := url.Values{}
	params.Set("text", req.Text)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}
	params.Set("language_id", req.Language.String())

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}

// wavFormat describes the PCM payload inside a RIFF/WAVE response: where the
// sample data begins and how it is laid out.
type wavFormat struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second (22050 for the stock VITS models)
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV walks the RIFF chunks in wav and returns the layout described by
// the "fmt " sub-chunk plus the offset of the "data" payload. Coqui happens
// to emit a plain 44-byte header today, but chunk sizes are not fixed by the
// container format, so the chunks are walked rather than assuming offsets.
func parseWAV(wav []byte) (wavFormat, error) {
	if len(wav) < 12 || string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavFormat{}, errors.New("coqui: response is not a RIFF/WAVE container")
	}

	// Defaults match the stock model in case data precedes fmt.
	f := wavFormat{SampleRate: 22050, Channels: 1}

	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size >= 16 && body+16 <= len(wav) {
				f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
				f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			}
		case "data":
			f.DataOffset = body
			return f, nil
		}

		// Chunks are word-aligned: odd sizes carry one pad byte.
		pos = body + size + size%2
	}
	return wavFormat{}, errors.New("coqui: WAV response has no data chunk")
}
