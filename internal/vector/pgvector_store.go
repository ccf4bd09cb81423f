package vector

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/chongs12/agentic-rag/internal/embedding"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PgvectorStore keeps chunks in a Postgres table with a pgvector column and
// ranks with the L2 operator (<->).
type PgvectorStore struct {
	pool     *pgxpool.Pool
	embedder embedding.Embedder
	table    string
	dim      int
}

func NewPgvectorStore(ctx context.Context, pool *pgxpool.Pool, emb embedding.Embedder, table string, dim int) (*PgvectorStore, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", table)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("pgvector: vector dim must be positive")
	}
	s := &PgvectorStore{pool: pool, embedder: emb, table: table, dim: dim}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrap is idempotent. Concurrent CREATE ... IF NOT EXISTS can still
// fail with a duplicate catalog entry; that outcome means the other process
// won and is accepted.
func (s *PgvectorStore) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, s.table, s.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil && !isDuplicateObject(err) {
			return fmt.Errorf("pgvector bootstrap: %w", err)
		}
	}
	logger.Info(ctx, "Opened pgvector table", "table", s.table, "dim", s.dim)
	return nil
}

func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "23505", "42P07", "42710":
		return true
	}
	return false
}

func (s *PgvectorStore) Upsert(ctx context.Context, texts []string, metas []Metadata, ids []string) error {
	clean, err := sanitizeAll(texts, metas, ids)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`INSERT INTO %s (id, source, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET source = EXCLUDED.source, content = EXCLUDED.content,
			metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`, s.table)
	for i, id := range ids {
		meta, err := sonic.Marshal(clean[i])
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, stmt, id, clean[i].String("source"), texts[i], meta, pgvector.NewVector(toFloat32(vecs[i]))); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgvectorStore) Query(ctx context.Context, text string, n int, sources []string) (*QueryResult, error) {
	qv, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("empty query embedding")
	}
	var filter []string
	if len(sources) > 0 {
		filter = sources
	}
	q := fmt.Sprintf(`SELECT content, metadata, embedding <-> $1 AS distance FROM %s
		WHERE ($3::text[] IS NULL OR source = ANY($3))
		ORDER BY distance LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(toFloat32(qv[0])), n, filter)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := &QueryResult{}
	for rows.Next() {
		var (
			content string
			raw     []byte
			dist    float64
		)
		if err := rows.Scan(&content, &raw, &dist); err != nil {
			return nil, err
		}
		m := Metadata{}
		if err := sonic.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out.Documents = append(out.Documents, content)
		out.Metadatas = append(out.Metadatas, m)
		out.Distances = append(out.Distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := checkDistances(out.Distances); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}
