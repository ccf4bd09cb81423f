package embedding

import (
	"context"
	"math"
	"os"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Go developer with Kubernetes", "go developer, kubernetes!"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 2 || len(a[0]) != 64 {
		t.Fatalf("unexpected shape %dx%d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("case and punctuation should not change the vector")
		}
	}
	var norm float64
	for _, v := range a[0] {
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("vector not normalized: %f", norm)
	}
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dim() != 384 {
		t.Fatalf("default dim = %d", e.Dim())
	}
	v, err := e.Embed(context.Background(), []string{""})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for _, x := range v[0] {
		if x != 0 {
			t.Fatalf("empty text should embed to zero vector")
		}
	}
}

func TestArkEmbedder_SkipIfNoEnv(t *testing.T) {
	api := os.Getenv("ARK_API_KEY")
	model := os.Getenv("EMBEDDING_MODEL")
	if api == "" || model == "" {
		t.Skip("skip integration: missing ARK_API_KEY/EMBEDDING_MODEL")
	}
	e, err := NewArkEmbedder(context.Background(), api, model, os.Getenv("ARK_BASE_URL"), os.Getenv("ARK_REGION"))
	if err != nil {
		t.Fatalf("ark embedder: %v", err)
	}
	v, err := e.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 1 || len(v[0]) == 0 {
		t.Fatalf("empty embedding")
	}
}
