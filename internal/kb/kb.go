// Package kb implements the optional article knowledge base behind
// informational intents such as pricing and leave policies.
//
// Articles live in a PostgreSQL table with a pgvector embedding column.
// Queries are embedded with the configured embed.Provider and matched by
// cosine distance; anything farther than the acceptance threshold counts as
// a miss, so the orchestrator falls back to its static localized summaries.
package kb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Compile-time interface check.
var _ orchestrator.Knowledge = (*Index)(nil)

// Defaults applied by New when no option overrides them.
const (
	// DefaultTopK is the number of candidate articles fetched per query.
	DefaultTopK = 3

	// DefaultMaxDistance is the cosine-distance acceptance threshold.
	// The best match must be at most this far from the query embedding,
	// otherwise Answer reports a miss.
	DefaultMaxDistance = 0.6
)

// Article is a single knowledge-base entry. Body is what Answer returns
// verbatim, so it should read as a complete spoken reply in its language.
type Article struct {
	ID       string
	Language dialog.Language
	Title    string
	Body     string

	// Embedding is optional. When empty, Upsert embeds Title and Body
	// with the index's embed provider before writing the row.
	Embedding []float32
}

// Result pairs an article with its cosine distance from the query embedding.
// Distance 0 is identical, 1 is orthogonal.
type Result struct {
	Article  Article
	Distance float64
}

// Index retrieves articles by embedding similarity. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Index struct {
	pool     *pgxpool.Pool
	embedder embed.Provider
	topK     int
	maxDist  float64
	log      *slog.Logger
	ownsPool bool
}

// Option configures an Index.
type Option func(*Index)

// WithTopK sets how many candidate articles each query fetches.
// Values <= 0 keep the default.
func WithTopK(k int) Option {
	return func(i *Index) {
		if k > 0 {
			i.topK = k
		}
	}
}

// WithMaxDistance sets the cosine-distance acceptance threshold for Answer.
func WithMaxDistance(d float64) Option {
	return func(i *Index) {
		i.maxDist = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(i *Index) {
		if log != nil {
			i.log = log
		}
	}
}

// New builds an Index over an existing pool. The caller keeps ownership of
// the pool and Close becomes a no-op. Most callers want [Open] instead.
func New(pool *pgxpool.Pool, embedder embed.Provider, opts ...Option) *Index {
	idx := &Index{
		pool:     pool,
		embedder: embedder,
		topK:     DefaultTopK,
		maxDist:  DefaultMaxDistance,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Open connects to the PostgreSQL database at dsn, registers pgvector types
// on every connection, runs [Migrate] sized to embedder.Dimensions(), and
// returns a ready Index that owns the pool.
func Open(ctx context.Context, dsn string, embedder embed.Provider, opts ...Option) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kb: parse dsn: %w", err)
	}

	// Vector columns scan into pgvector.Vector values only when the codec
	// is registered on each new connection.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kb: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kb: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, err
	}

	idx := New(pool, embedder, opts...)
	idx.ownsPool = true
	return idx, nil
}

// Close releases the connection pool if the Index created it via Open.
func (i *Index) Close() {
	if i.ownsPool && i.pool != nil {
		i.pool.Close()
	}
}

// ─────────────────────────────── Schema ────────────────────────────────

// ddlArticles returns the articles DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
func ddlArticles(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS articles (
    id        TEXT  PRIMARY KEY,
    language  TEXT  NOT NULL DEFAULT 'en',
    title     TEXT  NOT NULL,
    body      TEXT  NOT NULL,
    embedding vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_articles_language
    ON articles (language);

CREATE INDEX IF NOT EXISTS idx_articles_embedding
    ON articles USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the articles table and vector extension exist.
// It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedding model (e.g. 1536
// for OpenAI text-embedding-3-small). Changing it after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlArticles(embeddingDimensions)); err != nil {
		return fmt.Errorf("kb: migrate: %w", err)
	}
	return nil
}

// ─────────────────────────────── Queries ───────────────────────────────

// Upsert writes articles to the store, replacing any existing rows with the
// same ID. Articles without an embedding are embedded in a single batch call
// before the first write; their Language defaults to English when empty.
func (i *Index) Upsert(ctx context.Context, articles ...Article) error {
	if len(articles) == 0 {
		return nil
	}

	var (
		texts   []string
		missing []int
	)
	for idx, a := range articles {
		if len(a.Embedding) == 0 {
			texts = append(texts, a.Title+"\n"+a.Body)
			missing = append(missing, idx)
		}
	}
	if len(texts) > 0 {
		vecs, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("kb: embed articles: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("kb: embed articles: got %d vectors for %d texts", len(vecs), len(texts))
		}
		for n, idx := range missing {
			articles[idx].Embedding = vecs[n]
		}
	}

	const q = `
		INSERT INTO articles (id, language, title, body, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    language  = EXCLUDED.language,
		    title     = EXCLUDED.title,
		    body      = EXCLUDED.body,
		    embedding = EXCLUDED.embedding`

	for _, a := range articles {
		lang := a.Language
		if lang == "" {
			lang = dialog.LanguageEN
		}
		if _, err := i.pool.Exec(ctx, q, a.ID, string(lang), a.Title, a.Body, pgvector.NewVector(a.Embedding)); err != nil {
			return fmt.Errorf("kb: upsert article %q: %w", a.ID, err)
		}
	}
	return nil
}

// Search embeds query and returns up to k articles ordered by ascending
// cosine distance (most similar first). A non-empty lang restricts results
// to articles in that language. k <= 0 uses the configured top-k.
func (i *Index) Search(ctx context.Context, query string, lang dialog.Language, k int) ([]Result, error) {
	if k <= 0 {
		k = i.topK
	}
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("kb: embed query: %w", err)
	}
	return i.searchVector(ctx, vec, lang, k)
}

func (i *Index) searchVector(ctx context.Context, embedding []float32, lang dialog.Language, k int) ([]Result, error) {
	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	whereClause := ""
	if lang != "" {
		whereClause = "WHERE language = " + next(string(lang))
	}
	limitArg := next(k)

	q := fmt.Sprintf(`
		SELECT id, language, title, body,
		       embedding <=> $1 AS distance
		FROM   articles
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := i.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("kb: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var (
			r    Result
			lang string
		)
		if err := row.Scan(&r.Article.ID, &lang, &r.Article.Title, &r.Article.Body, &r.Distance); err != nil {
			return Result{}, err
		}
		r.Article.Language = dialog.Language(lang)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("kb: search: collect rows: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

// Answer implements [orchestrator.Knowledge]. It returns ok=false with a nil
// error when no article falls within the acceptance distance, leaving the
// fallback wording to the caller. Blank queries miss without touching the
// embedder or the database.
func (i *Index) Answer(ctx context.Context, query string, lang dialog.Language) (string, bool, error) {
	if strings.TrimSpace(query) == "" {
		return "", false, nil
	}

	results, err := i.Search(ctx, query, lang, i.topK)
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 {
		return "", false, nil
	}

	best := results[0]
	if best.Distance > i.maxDist {
		i.log.Debug("knowledge miss", "closest", best.Article.ID, "distance", best.Distance)
		return "", false, nil
	}

	i.log.Debug("knowledge hit", "article", best.Article.ID, "distance", best.Distance)
	return best.Article.Body, true, nil
}
