package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	bolt "go.etcd.io/bbolt"

	"github.com/chongs12/agentic-rag/internal/embedding"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

var (
	bucketChunks  = []byte("chunks")
	bucketVectors = []byte("vectors")
)

type boltRecord struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// openTimeout bounds the wait for another handle's file lock.
const openTimeout = 5 * time.Second

// BoltStore is an on-disk store for single node deployments. Queries scan
// every vector of the collection, which is fine for a handful of documents.
//
// bbolt locks the file for as long as it is open, so the file is opened per
// operation and closed again. Separate processes on the same path then share
// it, each waiting at most openTimeout for the other's operation to finish.
type BoltStore struct {
	path       string
	embedder   embedding.Embedder
	collection string
	mu         sync.Mutex
}

// NewBoltStore creates the collection buckets when missing. Concurrent
// bootstraps on the same file are serialized by the file lock and converge
// on one collection.
func NewBoltStore(ctx context.Context, path, collection string, emb embedding.Embedder) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	s := &BoltStore{path: path, embedder: emb, collection: collection}
	err := s.update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		if _, err := root.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		_, err = root.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap collection %q: %w", collection, err)
	}
	logger.Info(ctx, "Opened bolt collection", "path", path, "collection", collection)
	return s, nil
}

func (s *BoltStore) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: openTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	return db, nil
}

func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.open(false)
	if err != nil {
		return err
	}
	if err := db.Update(fn); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

// view takes a shared lock, so readers in several processes do not block
// each other.
func (s *BoltStore) view(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (s *BoltStore) buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	root := tx.Bucket([]byte(s.collection))
	if root == nil {
		return nil, nil, fmt.Errorf("collection %q missing", s.collection)
	}
	return root.Bucket(bucketChunks), root.Bucket(bucketVectors), nil
}

func (s *BoltStore) Upsert(ctx context.Context, texts []string, metas []Metadata, ids []string) error {
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
	return s.update(func(tx *bolt.Tx) error {
		chunks, vectors, err := s.buckets(tx)
		if err != nil {
			return err
		}
		for i, id := range ids {
			rec, err := sonic.Marshal(boltRecord{Text: texts[i], Metadata: clean[i]})
			if err != nil {
				return fmt.Errorf("marshal chunk %s: %w", id, err)
			}
			if err := chunks.Put([]byte(id), rec); err != nil {
				return err
			}
			if err := vectors.Put([]byte(id), Float64SliceToBytes(vecs[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

type boltCandidate struct {
	rec  boltRecord
	dist float64
}

func (s *BoltStore) Query(ctx context.Context, text string, n int, sources []string) (*QueryResult, error) {
	qv, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("empty query embedding")
	}
	allowed := sourceSet(sources)

	var cands []boltCandidate
	err = s.view(func(tx *bolt.Tx) error {
		chunks, vectors, err := s.buckets(tx)
		if err != nil {
			return err
		}
		return chunks.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := sonic.Unmarshal(v, &rec); err != nil {
				logger.Warn(ctx, "Skipping unreadable chunk", "id", string(k), "error", err)
				return nil
			}
			if allowed != nil {
				if _, ok := allowed[rec.Metadata.String("source")]; !ok {
					return nil
				}
			}
			vec, err := BytesToFloat64Slice(vectors.Get(k))
			if err != nil || len(vec) == 0 {
				return nil
			}
			cands = append(cands, boltCandidate{rec: rec, dist: squaredL2(qv[0], vec)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	out := &QueryResult{
		Documents: make([]string, len(cands)),
		Metadatas: make([]Metadata, len(cands)),
		Distances: make([]float64, len(cands)),
	}
	for i, c := range cands {
		out.Documents[i] = c.rec.Text
		out.Metadatas[i] = c.rec.Metadata
		out.Distances[i] = c.dist
	}
	if err := checkDistances(out.Distances); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (s *BoltStore) Count() (int, error) {
	var n int
	err := s.view(func(tx *bolt.Tx) error {
		chunks, _, err := s.buckets(tx)
		if err != nil {
			return err
		}
		n = chunks.Stats().KeyN
		return nil
	})
	return n, err
}

// Close is a no-op: no handle outlives an operation.
func (s *BoltStore) Close() error {
	return nil
}
