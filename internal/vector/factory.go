package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"

	"github.com/chongs12/agentic-rag/internal/embedding"
	"github.com/chongs12/agentic-rag/pkg/config"
)

// NewOpener returns an Opener for the backend named in cfg.Vector.Backend.
func NewOpener(cfg *config.Config, emb embedding.Embedder) (Opener, error) {
	collection := cfg.Vector.Collection
	switch strings.ToLower(cfg.Vector.Backend) {
	case "", "bolt":
		return func(ctx context.Context) (Store, error) {
			return NewBoltStore(ctx, cfg.Bolt.Path, collection, emb)
		}, nil
	case "milvus":
		return func(ctx context.Context) (Store, error) {
			cli, err := milvus.NewClient(ctx, milvus.Config{
				Address:  cfg.Milvus.Addr,
				Username: cfg.Milvus.Username,
				Password: cfg.Milvus.Password,
			})
			if err != nil {
				return nil, fmt.Errorf("milvus client: %w", err)
			}
			s, err := NewMilvusStore(ctx, cli, emb, MilvusOptions{
				Collection:  collection,
				VectorField: cfg.Milvus.VectorField,
				VectorDim:   cfg.Embedding.Dim,
			})
			if err != nil {
				cli.Close()
				return nil, err
			}
			return s, nil
		}, nil
	case "pgvector", "postgres":
		return func(ctx context.Context) (Store, error) {
			pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
			if err != nil {
				return nil, fmt.Errorf("postgres pool: %w", err)
			}
			s, err := NewPgvectorStore(ctx, pool, emb, collection, cfg.Embedding.Dim)
			if err != nil {
				pool.Close()
				return nil, err
			}
			return s, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

// NewEmbedder builds the embedder named in cfg.Embedding.Provider.
func NewEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "", "hash":
		return embedding.NewHashEmbedder(cfg.Embedding.Dim), nil
	case "ark":
		e, err := embedding.NewArkEmbedder(ctx, cfg.Ark.APIKey, cfg.Embedding.Model, cfg.Ark.BaseURL, cfg.Ark.Region)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
