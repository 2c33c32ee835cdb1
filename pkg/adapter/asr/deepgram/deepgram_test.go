package deepgram_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr/deepgram"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

const transcriptJSON = `{
	"results": {
		"channels": [
			{
				"alternatives": [
					{"transcript": "battery swap station near Andheri ", "confidence": 0.94}
				]
			}
		]
	}
}`

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := deepgram.New(""); err == nil {
		t.Fatal("New(\"\") returned nil error")
	}
}

func TestTranscribe_SendsPCMWithQueryParams(t *testing.T) {
	t.Parallel()

	var (
		gotAuth  string
		gotCT    string
		gotQuery map[string]string
		gotBody  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		q := r.URL.Query()
		gotQuery = map[string]string{
			"model":       q.Get("model"),
			"language":    q.Get("language"),
			"encoding":    q.Get("encoding"),
			"sample_rate": q.Get("sample_rate"),
			"channels":    q.Get("channels"),
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, transcriptJSON)
	}))
	defer srv.Close()

	p, err := deepgram.New("dg-key", deepgram.WithEndpoint(srv.URL), deepgram.WithModel("nova-2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := []byte{1, 2, 3, 4, 5, 6}
	res, err := p.Transcribe(context.Background(), asr.Request{
		Audio:      pcm,
		SampleRate: 8000,
		Language:   dialog.LanguageHI,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if res.Text != "battery swap station near Andheri" {
		t.Errorf("Text = %q, want trimmed transcript", res.Text)
	}
	if gotAuth != "Token dg-key" {
		t.Errorf("authorization = %q, want Token dg-key", gotAuth)
	}
	if gotCT != "application/octet-stream" {
		t.Errorf("content-type = %q, want application/octet-stream", gotCT)
	}
	want := map[string]string{
		"model":       "nova-2",
		"language":    "hi",
		"encoding":    "linear16",
		"sample_rate": "8000",
		"channels":    "1",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
	if string(gotBody) != string(pcm) {
		t.Errorf("body = %v, want raw PCM %v", gotBody, pcm)
	}
}

func TestTranscribe_DefaultsSampleRate(t *testing.T) {
	t.Parallel()

	var gotRate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRate = r.URL.Query().Get("sample_rate")
		_, _ = io.WriteString(w, transcriptJSON)
	}))
	defer srv.Close()

	p, err := deepgram.New("dg-key", deepgram.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotRate != "16000" {
		t.Errorf("sample_rate = %q, want default 16000", gotRate)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()

	p, err := deepgram.New("dg-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), asr.Request{}); err == nil {
		t.Fatal("Transcribe returned nil error for empty audio")
	}
}

func TestTranscribe_NoAlternatives(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"channels":[]}}`)
	}))
	defer srv.Close()

	p, err := deepgram.New("dg-key", deepgram.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty result for no alternatives", res.Text)
	}
}

func TestTranscribe_ServerErrorIncludesBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"err_msg":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := deepgram.New("bad-key", deepgram.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), asr.Request{Audio: []byte{0, 0}, SampleRate: 16000})
	if err == nil {
		t.Fatal("Transcribe returned nil error for HTTP 401")
	}
}
