package kb_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HeckSmart/multilingual-voiceagent/internal/kb"
	embedmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// vecEmbedder maps known texts to fixed vectors so similarity is
// deterministic. Unknown texts embed to the zero vector.
type vecEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (e *vecEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, e.dims), nil
}

func (e *vecEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *vecEmbedder) Dimensions() int { return e.dims }
func (e *vecEmbedder) ModelID() string { return "test-vectors" }

// ─────────────────────────── Unit tests (no DB) ───────────────────────────

func TestAnswer_BlankQueryMisses(t *testing.T) {
	t.Parallel()

	emb := &embedmock.Provider{DimensionsValue: 4}
	idx := kb.New(nil, emb)

	answer, ok, err := idx.Answer(context.Background(), "   ", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ok || answer != "" {
		t.Fatalf("Answer = (%q, %v), want miss", answer, ok)
	}
	if len(emb.EmbedCalls) != 0 {
		t.Fatalf("embedder called %d times for a blank query", len(emb.EmbedCalls))
	}
}

func TestAnswer_EmbedErrorPropagates(t *testing.T) {
	t.Parallel()

	emb := &embedmock.Provider{EmbedErr: context.DeadlineExceeded}
	idx := kb.New(nil, emb)

	_, ok, err := idx.Answer(context.Background(), "how much does a swap cost", dialog.LanguageEN)
	if err == nil {
		t.Fatal("Answer returned nil error, want embed failure")
	}
	if ok {
		t.Fatal("Answer reported ok despite embed failure")
	}
	if !strings.Contains(err.Error(), "embed query") {
		t.Fatalf("error = %v, want embed query wrap", err)
	}
}

func TestUpsert_NoArticlesIsNoop(t *testing.T) {
	t.Parallel()

	idx := kb.New(nil, &embedmock.Provider{})
	if err := idx.Upsert(context.Background()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestUpsert_EmbedBatchErrorPropagates(t *testing.T) {
	t.Parallel()

	emb := &embedmock.Provider{EmbedBatchErr: context.DeadlineExceeded}
	idx := kb.New(nil, emb)

	err := idx.Upsert(context.Background(), kb.Article{ID: "pricing-en", Title: "Pricing", Body: "Swaps cost ₹150."})
	if err == nil {
		t.Fatal("Upsert returned nil error, want embed failure")
	}
	if !strings.Contains(err.Error(), "embed articles") {
		t.Fatalf("error = %v, want embed articles wrap", err)
	}
}

func TestUpsert_BatchCountMismatch(t *testing.T) {
	t.Parallel()

	emb := &embedmock.Provider{EmbedBatchResult: [][]float32{{1, 0}}}
	idx := kb.New(nil, emb)

	err := idx.Upsert(context.Background(),
		kb.Article{ID: "a", Title: "A", Body: "a"},
		kb.Article{ID: "b", Title: "B", Body: "b"},
	)
	if err == nil {
		t.Fatal("Upsert returned nil error, want vector count mismatch")
	}
	if !strings.Contains(err.Error(), "got 1 vectors for 2 texts") {
		t.Fatalf("error = %v, want count mismatch", err)
	}
}

// ──────────────────────── Integration tests (postgres) ────────────────────────

const testDims = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICEAGENT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICEAGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICEAGENT_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestIndex creates a fresh [kb.Index] over a clean articles table.
func newTestIndex(t *testing.T, emb *vecEmbedder, opts ...kb.Option) *kb.Index {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS articles`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	idx, err := kb.Open(ctx, dsn, emb, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(idx.Close)
	return idx
}

func seedArticles(t *testing.T, idx *kb.Index) {
	t.Helper()
	err := idx.Upsert(context.Background(),
		kb.Article{
			ID:        "pricing-en",
			Language:  dialog.LanguageEN,
			Title:     "Swap pricing",
			Body:      "Each swap costs ₹150 on the base plan.",
			Embedding: []float32{1, 0, 0, 0},
		},
		kb.Article{
			ID:        "pricing-hi",
			Language:  dialog.LanguageHI,
			Title:     "स्वैप मूल्य",
			Body:      "बेस प्लान पर हर स्वैप की कीमत ₹150 है।",
			Embedding: []float32{0, 1, 0, 0},
		},
	)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestIndex_SearchOrdersByDistance(t *testing.T) {
	emb := &vecEmbedder{
		dims: testDims,
		vectors: map[string][]float32{
			"swap price": {0.9, 0.1, 0, 0},
		},
	}
	idx := newTestIndex(t, emb)
	seedArticles(t, idx)

	results, err := idx.Search(context.Background(), "swap price", "", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Article.ID != "pricing-en" {
		t.Fatalf("results[0] = %q, want pricing-en", results[0].Article.ID)
	}
	if results[0].Distance >= results[1].Distance {
		t.Fatalf("distances not ascending: %v then %v", results[0].Distance, results[1].Distance)
	}
}

func TestIndex_SearchFiltersByLanguage(t *testing.T) {
	emb := &vecEmbedder{
		dims: testDims,
		vectors: map[string][]float32{
			"swap price": {0.9, 0.1, 0, 0},
		},
	}
	idx := newTestIndex(t, emb)
	seedArticles(t, idx)

	results, err := idx.Search(context.Background(), "swap price", dialog.LanguageHI, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Article.ID != "pricing-hi" {
		t.Fatalf("results[0] = %q, want pricing-hi", results[0].Article.ID)
	}
	if results[0].Article.Language != dialog.LanguageHI {
		t.Fatalf("Language = %q, want hi", results[0].Article.Language)
	}
}

func TestIndex_AnswerHitWithinThreshold(t *testing.T) {
	emb := &vecEmbedder{
		dims: testDims,
		vectors: map[string][]float32{
			"how much does a swap cost": {1, 0, 0, 0},
		},
	}
	idx := newTestIndex(t, emb)
	seedArticles(t, idx)

	answer, ok, err := idx.Answer(context.Background(), "how much does a swap cost", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !ok {
		t.Fatal("Answer missed, want hit")
	}
	if want := "Each swap costs ₹150 on the base plan."; answer != want {
		t.Fatalf("answer = %q, want %q", answer, want)
	}
}

func TestIndex_AnswerMissBeyondThreshold(t *testing.T) {
	// The query embeds orthogonally to every article, distance 1.
	emb := &vecEmbedder{
		dims: testDims,
		vectors: map[string][]float32{
			"unrelated question": {0, 0, 1, 0},
		},
	}
	idx := newTestIndex(t, emb)
	seedArticles(t, idx)

	answer, ok, err := idx.Answer(context.Background(), "unrelated question", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ok || answer != "" {
		t.Fatalf("Answer = (%q, %v), want miss", answer, ok)
	}
}

func TestIndex_AnswerEmptyTableMisses(t *testing.T) {
	emb := &vecEmbedder{dims: testDims, vectors: map[string][]float32{"anything": {1, 0, 0, 0}}}
	idx := newTestIndex(t, emb)

	_, ok, err := idx.Answer(context.Background(), "anything", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ok {
		t.Fatal("Answer reported ok on an empty table")
	}
}

func TestIndex_UpsertEmbedsMissingVectors(t *testing.T) {
	emb := &vecEmbedder{
		dims: testDims,
		vectors: map[string][]float32{
			"Leave policy\nDrivers can take leave through the partner app.": {0, 0, 0, 1},
			"how do I apply for leave": {0, 0, 0, 1},
		},
	}
	idx := newTestIndex(t, emb)

	err := idx.Upsert(context.Background(), kb.Article{
		ID:    "leave-en",
		Title: "Leave policy",
		Body:  "Drivers can take leave through the partner app.",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	answer, ok, err := idx.Answer(context.Background(), "how do I apply for leave", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !ok {
		t.Fatal("Answer missed, want hit on embedded article")
	}
	if want := "Drivers can take leave through the partner app."; answer != want {
		t.Fatalf("answer = %q, want %q", answer, want)
	}
}

func TestIndex_UpsertReplacesExisting(t *testing.T) {
	emb := &vecEmbedder{
		dims: testDims,
		vectors: map[string][]float32{
			"swap price": {1, 0, 0, 0},
		},
	}
	idx := newTestIndex(t, emb)
	seedArticles(t, idx)

	err := idx.Upsert(context.Background(), kb.Article{
		ID:        "pricing-en",
		Language:  dialog.LanguageEN,
		Title:     "Swap pricing",
		Body:      "Each swap costs ₹175 from February.",
		Embedding: []float32{1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	answer, ok, err := idx.Answer(context.Background(), "swap price", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !ok {
		t.Fatal("Answer missed after upsert")
	}
	if want := "Each swap costs ₹175 from February."; answer != want {
		t.Fatalf("answer = %q, want %q", answer, want)
	}
}
