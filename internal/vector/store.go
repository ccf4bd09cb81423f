package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrNegativeDistance means the backend returned a similarity where a
	// distance was expected.
	ErrNegativeDistance = errors.New("vector store returned a negative distance")
	ErrMisalignedInput  = errors.New("texts, metadata and ids must have the same length")
)

// Metadata holds primitive values only (string, bool, integers, floats).
type Metadata map[string]any

// QueryResult mirrors the store's native response: three arrays aligned by
// index, nearest first. Backends may return arrays of different lengths.
type QueryResult struct {
	Documents []string
	Metadatas []Metadata
	Distances []float64
}

// Store is the adapter contract every vector backend implements.
type Store interface {
	// Upsert inserts or replaces one entry per id.
	Upsert(ctx context.Context, texts []string, metas []Metadata, ids []string) error
	// Query returns up to n nearest entries. An empty sources list means no
	// filter; otherwise only entries whose source is listed are considered.
	Query(ctx context.Context, text string, n int, sources []string) (*QueryResult, error)
	Close() error
}

// SanitizeMetadata drops nil values and rejects non-primitive ones.
func SanitizeMetadata(m Metadata) (Metadata, error) {
	out := make(Metadata, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case nil:
			continue
		case string, bool, int, int32, int64, uint, uint32, uint64:
			out[k] = tv
		case float32:
			out[k] = tv
		case float64:
			if math.IsNaN(tv) || math.IsInf(tv, 0) {
				return nil, fmt.Errorf("metadata %q: non-finite number", k)
			}
			out[k] = tv
		default:
			return nil, fmt.Errorf("metadata %q: unsupported type %T", k, v)
		}
	}
	return out, nil
}

func sanitizeAll(texts []string, metas []Metadata, ids []string) ([]Metadata, error) {
	if len(texts) != len(metas) || len(texts) != len(ids) {
		return nil, ErrMisalignedInput
	}
	out := make([]Metadata, len(metas))
	for i, m := range metas {
		clean, err := SanitizeMetadata(m)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ids[i], err)
		}
		out[i] = clean
	}
	return out, nil
}

// checkDistances enforces the distance contract at the adapter boundary.
func checkDistances(dists []float64) error {
	for i, d := range dists {
		if d < 0 {
			return fmt.Errorf("%w: %f at %d", ErrNegativeDistance, d, i)
		}
	}
	return nil
}

func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Int reads integer metadata; JSON round trips turn ints into float64.
func (m Metadata) Int(key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return def
	}
}

// Opener builds a store, bootstrapping its collection.
type Opener func(ctx context.Context) (Store, error)

// Lazy is a process-wide store handle that is opened on first use.
// A failed open is not cached; the next call tries again.
type Lazy struct {
	open  Opener
	mu    sync.Mutex
	store Store
}

func NewLazy(open Opener) *Lazy {
	return &Lazy{open: open}
}

func (l *Lazy) get(ctx context.Context) (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store, nil
	}
	s, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.store = s
	return s, nil
}

func (l *Lazy) Upsert(ctx context.Context, texts []string, metas []Metadata, ids []string) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Upsert(ctx, texts, metas, ids)
}

func (l *Lazy) Query(ctx context.Context, text string, n int, sources []string) (*QueryResult, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, text, n, sources)
}

func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
