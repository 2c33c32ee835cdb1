// Package whisper provides a whisper.cpp-backed speech recognizer.
//
// It connects to a running whisper-server binary (which exposes a REST API at
// POST /inference) and submits each buffered utterance as a batch inference
// request. Utterance segmentation happens upstream in the turn controller, so
// this adapter is a plain request/response client: wrap the PCM in a WAV
// container, upload it, parse the text out of the JSON reply.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithModel("small"),
//	)
//	res, err := p.Transcribe(ctx, asr.Request{Audio: pcm, SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
)

// bitsPerSample is fixed at 16 for the 16-bit signed little-endian PCM audio
// that whisper.cpp expects.
const bitsPerSample = 16

// Compile-time assertion that Provider implements asr.Provider.
var _ asr.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty, the default, the server uses
// whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that manage their own transport settings. The default client has a
// 30 second timeout; per-turn recognition deadlines arrive via context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements asr.Provider backed by a whisper.cpp HTTP server. It is
// stateless between calls and safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe encodes the utterance as a WAV file and POSTs it to the
// whisper.cpp /inference endpoint as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if len(req.Audio) == 0 {
		return asr.Result{}, errors.New("whisper: empty audio")
	}
	sr := req.SampleRate
	if sr <= 0 {
		sr = 16000
	}

	wav := encodeWAV(req.Audio, sr, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields. whisper.cpp expects the short language code.
	if err := mw.WriteField("language", req.Language.String()); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: write language field: %w", err)
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return asr.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asr.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return asr.Result{Text: strings.TrimSpace(result.Text)}, nil
}

// encodeWAV wraps raw 16-bit signed little-endian PCM in a canonical 44-byte
// WAV header so the server can ingest it as a file upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	u16 := func(v int) { _ = binary.Write(&b, binary.LittleEndian, uint16(v)) }
	u32 := func(v int) { _ = binary.Write(&b, binary.LittleEndian, uint32(v)) }

	b.WriteString("RIFF")
	u32(36 + len(pcm)) // container size minus the 8 bytes written so far
	b.WriteString("WAVE")

	b.WriteString("fmt ")
	u32(16) // PCM fmt chunk is fixed-size
	u16(1)  // format tag: integer PCM
	u16(channels)
	u32(sampleRate)
	u32(byteRate)
	u16(blockAlign)
	u16(bitsPerSample)

	b.WriteString("data")
	u32(len(pcm))
	b.Write(pcm)

	return b.Bytes()
}
