package embedding

import (
	"context"
	"fmt"

	arkext "github.com/cloudwego/eino-ext/components/embedding/ark"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float64, error)
}

type ArkEmbedder struct {
	emb *arkext.Embedder
}

// 新建 Ark 向量嵌入器（使用火山引擎 Ark）
func NewArkEmbedder(ctx context.Context, apiKey, model, baseURL, region string) (*ArkEmbedder, error) {
	cfg := &arkext.EmbeddingConfig{
		APIKey: apiKey,
		Model:  model,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if region != "" {
		cfg.Region = region
	}
	emb, err := arkext.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new ark embedder: %w", err)
	}
	return &ArkEmbedder{emb: emb}, nil
}

func (a *ArkEmbedder) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	vecs, err := a.emb.EmbedStrings(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("ark returned %d embeddings for %d inputs", len(vecs), len(inputs))
	}
	return vecs, nil
}
