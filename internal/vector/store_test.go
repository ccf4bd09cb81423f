package vector

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestSanitizeMetadataDropsNil(t *testing.T) {
	m, err := SanitizeMetadata(Metadata{"source": "cv.pdf", "page": nil, "chunk_id": "cv-1-c0", "n": 3, "ok": true})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if _, ok := m["page"]; ok {
		t.Fatalf("nil value should be omitted, got %v", m)
	}
	if m["source"] != "cv.pdf" || m["n"] != 3 || m["ok"] != true {
		t.Fatalf("primitive values lost: %v", m)
	}
}

func TestSanitizeMetadataRejectsComposite(t *testing.T) {
	if _, err := SanitizeMetadata(Metadata{"tags": []string{"a"}}); err == nil {
		t.Fatalf("slice value should be rejected")
	}
	if _, err := SanitizeMetadata(Metadata{"score": math.NaN()}); err == nil {
		t.Fatalf("NaN should be rejected")
	}
}

func TestSanitizeAllMisaligned(t *testing.T) {
	_, err := sanitizeAll([]string{"a", "b"}, []Metadata{{}}, []string{"1", "2"})
	if !errors.Is(err, ErrMisalignedInput) {
		t.Fatalf("expected ErrMisalignedInput, got %v", err)
	}
}

func TestCheckDistances(t *testing.T) {
	if err := checkDistances([]float64{0, 0.3, 2}); err != nil {
		t.Fatalf("valid distances rejected: %v", err)
	}
	if err := checkDistances([]float64{0.1, -0.2}); !errors.Is(err, ErrNegativeDistance) {
		t.Fatalf("expected ErrNegativeDistance, got %v", err)
	}
}

func TestInExpr(t *testing.T) {
	if got := inExpr("source", nil); got != "" {
		t.Fatalf("no sources should mean no filter, got %q", got)
	}
	if got := inExpr("source", []string{}); got != "" {
		t.Fatalf("empty sources should mean no filter, got %q", got)
	}
	got := inExpr("source", []string{"resume.pdf", `a"b.txt`})
	want := `source in ["resume.pdf", "a\"b.txt"]`
	if got != want {
		t.Fatalf("expr = %s, want %s", got, want)
	}
}

func TestMetadataAccessors(t *testing.T) {
	m := Metadata{"source": "a.txt", "page": float64(3), "bad": "x"}
	if m.String("source") != "a.txt" || m.String("page") != "" {
		t.Fatalf("String accessor wrong")
	}
	if m.Int("page", -1) != 3 || m.Int("missing", -1) != -1 || m.Int("bad", -1) != -1 {
		t.Fatalf("Int accessor wrong")
	}
}

func TestFloatBytesRoundTrip(t *testing.T) {
	in := []float64{0, 1.5, -2.25}
	out, err := BytesToFloat64Slice(Float64SliceToBytes(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("value %d changed: %v != %v", i, in[i], out[i])
		}
	}
	if _, err := BytesToFloat64Slice([]byte{1, 2, 3}); err == nil {
		t.Fatalf("short buffer should fail")
	}
}

type countingStore struct {
	closed bool
}

func (c *countingStore) Upsert(ctx context.Context, texts []string, metas []Metadata, ids []string) error {
	return nil
}

func (c *countingStore) Query(ctx context.Context, text string, n int, sources []string) (*QueryResult, error) {
	return &QueryResult{}, nil
}

func (c *countingStore) Close() error {
	c.closed = true
	return nil
}

func TestLazyOpensOnceAndRetriesFailures(t *testing.T) {
	calls := 0
	inner := &countingStore{}
	l := NewLazy(func(ctx context.Context) (Store, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("not ready")
		}
		return inner, nil
	})
	ctx := context.Background()
	if _, err := l.Query(ctx, "q", 1, nil); err == nil {
		t.Fatalf("first open should fail")
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Query(ctx, "q", 1, nil); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	if err := l.Upsert(ctx, nil, nil, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if calls != 2 {
		t.Fatalf("opener called %d times, want 2", calls)
	}
	if err := l.Close(); err != nil || !inner.closed {
		t.Fatalf("close not forwarded")
	}
}
