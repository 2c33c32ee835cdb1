// Package elevenlabs provides an ElevenLabs-backed synthesizer using the
// text-to-speech REST API. It implements the tts.Provider interface.
//
// Replies are short conversational sentences, so the provider requests raw
// PCM output ("pcm_16000" by default) and returns it directly; no container
// parsing is needed. The default model is multilingual and covers both
// English and Hindi with a single voice.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

const (
	ttsEndpointFmt   = "https://api.elevenlabs.io/v1/text-to-speech/%s?output_format=%s"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "pcm_16000"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2",
// "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000"). Only raw PCM formats are supported.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithLanguageVoice overrides the voice used for one language. Without an
// override every language uses the voice passed to New.
func WithLanguageVoice(lang dialog.Language, voiceID string) Option {
	return func(p *Provider) {
		p.voices[lang] = voiceID
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	voices       map[dialog.Language]string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey and voiceID must be
// non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		voices:       make(map[dialog.Language]string),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON payload sent to the text-to-speech endpoint.
type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize renders one reply via POST /v1/text-to-speech/{voice_id}.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Result{}, errors.New("elevenlabs: text must not be empty")
	}

	voice := p.voiceID
	if override, ok := p.voices[req.Language]; ok && override != "" {
		voice = override
	}

	body := ttsRequest{
		Text:    req.Text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("elevenlabs: marshal tts request: %w", err)
	}

	endpoint := fmt.Sprintf(ttsEndpointFmt, voice, p.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return tts.Result{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Result{}, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Result{}, fmt.Errorf("elevenlabs: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Result{}, fmt.Errorf("elevenlabs: read audio response: %w", err)
	}

	return tts.Result{
		Audio:      audio,
		SampleRate: sampleRateOf(p.outputFormat),
	}, nil
}

// sampleRateOf extracts the rate from a "pcm_NNNNN" output format string.
// Unrecognized formats report 16000.
func sampleRateOf(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 16000
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 16000
	}
	return rate
}
