package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"
)

func TestModelDimensions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"TEXT-EMBEDDING-3-LARGE", 3072},
		{"some-future-model", 1536},
	}
	for _, tc := range cases {
		if got := modelDimensions(tc.model); got != tc.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want default %q", p.ModelID(), DefaultModel)
	}
	if p.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d, want 1536 for %s", p.Dimensions(), DefaultModel)
	}
}

func TestNew_RejectsEmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") returned nil error")
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test",
		WithModel("text-embedding-3-large"),
		WithBaseURL("https://custom.example.com"),
		WithTimeout(5*time.Second),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != "text-embedding-3-large" {
		t.Errorf("WithModel not applied: ModelID() = %q", p.ModelID())
	}
	if p.Dimensions() != 3072 {
		t.Errorf("Dimensions() = %d, want 3072 after WithModel", p.Dimensions())
	}
}

// embeddingsServer answers every /embeddings call with body. It fails the
// test on any other path.
func embeddingsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestEmbed_ReturnsVector(t *testing.T) {
	t.Parallel()

	srv := embeddingsServer(t, `{
		"object": "list",
		"model": "text-embedding-3-small",
		"data": [{"object": "embedding", "index": 0, "embedding": [0.25, -0.5, 1]}]
	}`)
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "battery swap station near sector 62")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if want := []float32{0.25, -0.5, 1}; !slices.Equal(vec, want) {
		t.Errorf("Embed = %v, want %v", vec, want)
	}
}

func TestEmbedBatch_PlacesVectorsByIndex(t *testing.T) {
	t.Parallel()

	// Out-of-order response; vectors must land at their tagged index.
	srv := embeddingsServer(t, `{
		"object": "list",
		"model": "text-embedding-3-small",
		"data": [
			{"object": "embedding", "index": 1, "embedding": [2]},
			{"object": "embedding", "index": 0, "embedding": [1]}
		]
	}`)
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("EmbedBatch = %v, want index-ordered [[1] [2]]", vecs)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := embeddingsServer(t, `{
		"object": "list",
		"model": "text-embedding-3-small",
		"data": [{"object": "embedding", "index": 0, "embedding": [1]}]
	}`)
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("EmbedBatch returned nil error for a short response")
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", vecs)
	}
}

func TestEmbed_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 400 is not retried by the SDK, so the test stays fast.
		http.Error(w, `{"error":{"message":"invalid model"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed returned nil error for HTTP 400")
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	t.Parallel()

	got := float64ToFloat32([]float64{0.5, -2.25, 0})
	if want := []float32{0.5, -2.25, 0}; !slices.Equal(got, want) {
		t.Errorf("float64ToFloat32 = %v, want %v", got, want)
	}
	if out := float64ToFloat32(nil); len(out) != 0 {
		t.Errorf("float64ToFloat32(nil) = %v, want empty", out)
	}
}
