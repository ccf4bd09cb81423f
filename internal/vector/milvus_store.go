package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	milindex "github.com/cloudwego/eino-ext/components/indexer/milvus"
	milret "github.com/cloudwego/eino-ext/components/retriever/milvus"
	einoemb "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/chongs12/agentic-rag/internal/embedding"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

const (
	fieldID       = "id"
	fieldSource   = "source"
	fieldContent  = "content"
	fieldMetadata = "metadata"

	// HNSW ef; a search never asks for more rows than this
	searchEF          = 256
	defaultSearchTopK = 10
	// metadata key written by schema.Document.WithScore
	scoreKey = "_score"
)

type MilvusOptions struct {
	Collection  string
	VectorField string
	VectorDim   int
}

// MilvusStore keeps chunks in a Milvus collection searched with the L2 metric,
// so returned scores are distances. Writes go through the eino indexer and
// searches through the eino retriever.
type MilvusStore struct {
	client      milvus.Client
	indexer     *milindex.Indexer
	retriever   *milret.Retriever
	collection  string
	vectorField string
	vectorDim   int
}

// 初始化 Milvus 存储：打开或创建集合，再构建索引器与检索器
func NewMilvusStore(ctx context.Context, cli milvus.Client, emb embedding.Embedder, opts MilvusOptions) (*MilvusStore, error) {
	if opts.VectorField == "" {
		opts.VectorField = "vector"
	}
	if opts.VectorDim <= 0 {
		return nil, fmt.Errorf("milvus: vector dim must be positive")
	}
	s := &MilvusStore{
		client:      cli,
		collection:  opts.Collection,
		vectorField: opts.VectorField,
		vectorDim:   opts.VectorDim,
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	idx, err := milindex.NewIndexer(ctx, &milindex.IndexerConfig{
		Client:            cli,
		Collection:        s.collection,
		Embedding:         einoEmbedder{emb: emb},
		Fields:            buildFields(s.vectorField, s.vectorDim),
		MetricType:        milindex.MetricType("L2"),
		DocumentConverter: s.toRows,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus indexer: %w", err)
	}
	sp, err := entity.NewIndexHNSWSearchParam(searchEF)
	if err != nil {
		return nil, fmt.Errorf("search param: %w", err)
	}
	ret, err := milret.NewRetriever(ctx, &milret.RetrieverConfig{
		Client:            cli,
		Collection:        s.collection,
		Embedding:         einoEmbedder{emb: emb},
		TopK:              defaultSearchTopK,
		VectorField:       s.vectorField,
		MetricType:        entity.L2,
		VectorConverter:   floatVectors,
		Sp:                sp,
		DocumentConverter: searchResultToDocuments,
		OutputFields:      []string{fieldID, fieldContent, fieldMetadata},
	})
	if err != nil {
		return nil, fmt.Errorf("milvus retriever: %w", err)
	}
	s.indexer = idx
	s.retriever = ret
	return s, nil
}

// EnsureCollection opens the collection or creates it. Safe to run from
// several processes at once: a failed create is accepted when the
// collection exists afterwards.
func (s *MilvusStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("has collection: %w", err)
	}
	if exists {
		logger.Info(ctx, "Loaded existing collection", "collection", s.collection)
	} else {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "document chunks",
			Fields:         buildFields(s.vectorField, s.vectorDim),
		}
		if err := s.client.CreateCollection(ctx, schema, 1); err != nil {
			again, herr := s.client.HasCollection(ctx, s.collection)
			if herr != nil || !again {
				return fmt.Errorf("create collection: %w", err)
			}
			logger.Warn(ctx, "Collection created by another process", "collection", s.collection, "error", err)
		} else {
			logger.Info(ctx, "Created new collection", "collection", s.collection, "dim", s.vectorDim)
		}
	}
	if err := s.ensureIndex(ctx); err != nil {
		return err
	}
	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusStore) ensureIndex(ctx context.Context) error {
	if idx, err := s.client.DescribeIndex(ctx, s.collection, s.vectorField); err == nil && len(idx) > 0 {
		return nil
	}
	idx, err := entity.NewIndexHNSW(entity.L2, 16, 200)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := s.client.CreateIndex(ctx, s.collection, s.vectorField, idx, false); err != nil {
		if existing, derr := s.client.DescribeIndex(ctx, s.collection, s.vectorField); derr == nil && len(existing) > 0 {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (s *MilvusStore) Upsert(ctx context.Context, texts []string, metas []Metadata, ids []string) error {
	clean, err := sanitizeAll(texts, metas, ids)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return nil
	}
	docs := make([]*schema.Document, len(texts))
	for i := range texts {
		docs[i] = &schema.Document{ID: ids[i], Content: texts[i], MetaData: map[string]any(clean[i])}
	}
	// the indexer only inserts, so rows with the same id are removed first
	if err := s.client.Delete(ctx, s.collection, "", inExpr(fieldID, ids)); err != nil {
		return fmt.Errorf("milvus delete stale chunks: %w", err)
	}
	if _, err := s.indexer.Store(ctx, docs); err != nil {
		return fmt.Errorf("milvus store: %w", err)
	}
	logger.Info(ctx, "Upserted chunks", "collection", s.collection, "count", len(docs))
	return nil
}

// toRows is the indexer's DocumentConverter. Every schema field is filled
// because rows are converted against the collection schema.
func (s *MilvusStore) toRows(ctx context.Context, docs []*schema.Document, vectors [][]float64) ([]interface{}, error) {
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(docs))
	}
	rows := make([]interface{}, len(docs))
	for i, doc := range docs {
		metaBytes, err := sonic.Marshal(doc.MetaData)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		source, _ := doc.MetaData["source"].(string)
		rows[i] = map[string]interface{}{
			fieldID:       doc.ID,
			fieldSource:   source,
			fieldContent:  doc.Content,
			s.vectorField: toFloat32(vectors[i]),
			fieldMetadata: metaBytes,
		}
	}
	return rows, nil
}

func (s *MilvusStore) Query(ctx context.Context, text string, n int, sources []string) (*QueryResult, error) {
	var opts []retriever.Option
	if n > 0 {
		opts = append(opts, retriever.WithTopK(min(n, searchEF)))
	}
	if expr := inExpr(fieldSource, sources); expr != "" {
		opts = append(opts, milret.WithFilter(expr))
	}
	docs, err := s.retriever.Retrieve(ctx, text, opts...)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}
	out := &QueryResult{
		Documents: make([]string, 0, len(docs)),
		Metadatas: make([]Metadata, 0, len(docs)),
		Distances: make([]float64, 0, len(docs)),
	}
	for _, d := range docs {
		meta := make(Metadata, len(d.MetaData))
		for k, v := range d.MetaData {
			if k != scoreKey {
				meta[k] = v
			}
		}
		out.Documents = append(out.Documents, d.Content)
		out.Metadatas = append(out.Metadatas, meta)
		out.Distances = append(out.Distances, d.Score())
	}
	if err := checkDistances(out.Distances); err != nil {
		return nil, err
	}
	return out, nil
}

// searchResultToDocuments is the retriever's DocumentConverter. The raw L2
// distance travels as the document score. A row whose metadata does not
// decode is dropped on its own; the rows after it are kept.
func searchResultToDocuments(ctx context.Context, result milvus.SearchResult) ([]*schema.Document, error) {
	n := len(result.Scores)
	if n == 0 {
		return nil, nil
	}
	var contentCol *entity.ColumnVarChar
	var metaCol entity.Column
	for _, col := range result.Fields {
		switch col.Name() {
		case fieldContent:
			if c, ok := col.(*entity.ColumnVarChar); ok {
				contentCol = c
			}
		case fieldMetadata:
			metaCol = col
		}
	}
	if contentCol == nil {
		fieldNames := make([]string, len(result.Fields))
		for i, col := range result.Fields {
			fieldNames[i] = col.Name()
		}
		return nil, fmt.Errorf("content field not in output_fields; available fields: %v", fieldNames)
	}
	var metaBytes [][]byte
	if mb, ok := metaCol.(*entity.ColumnJSONBytes); ok {
		metaBytes = mb.Data()
	}
	var ids []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}

	contents := contentCol.Data()
	docs := make([]*schema.Document, 0, n)
	for i := 0; i < n && i < len(contents); i++ {
		meta := map[string]any{}
		if i < len(metaBytes) && len(metaBytes[i]) > 0 {
			if err := sonic.Unmarshal(metaBytes[i], &meta); err != nil {
				logger.Warn(ctx, "Dropping row with unreadable metadata", "row", i, "error", err.Error())
				continue
			}
		}
		doc := &schema.Document{Content: contents[i], MetaData: meta}
		if i < len(ids) {
			doc.ID = ids[i]
		}
		docs = append(docs, doc.WithScore(float64(result.Scores[i])))
	}
	return docs, nil
}

func floatVectors(ctx context.Context, vectors [][]float64) ([]entity.Vector, error) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	out := make([]entity.Vector, len(vectors))
	for i, v := range vectors {
		out[i] = entity.FloatVector(toFloat32(v))
	}
	return out, nil
}

// einoEmbedder lets the eino indexer and retriever call an Embedder.
type einoEmbedder struct {
	emb embedding.Embedder
}

func (e einoEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...einoemb.Option) ([][]float64, error) {
	return e.emb.Embed(ctx, texts)
}

func (s *MilvusStore) Close() error {
	return s.client.Close()
}

func buildFields(vectorField string, vectorDim int) []*entity.Field {
	id := &entity.Field{Name: fieldID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "256"}, PrimaryKey: true}
	source := &entity.Field{Name: fieldSource, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "512"}}
	content := &entity.Field{Name: fieldContent, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "8192"}}
	metadata := &entity.Field{Name: fieldMetadata, DataType: entity.FieldTypeJSON}
	vector := &entity.Field{Name: vectorField, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", vectorDim)}}
	return []*entity.Field{id, source, content, vector, metadata}
}

func (s *MilvusStore) LogDiagnostics(ctx context.Context) error {
	coll, err := s.client.DescribeCollection(ctx, s.collection)
	if err != nil {
		logger.Warn(ctx, "DescribeCollection failed", "collection", s.collection, "error", err.Error())
		return err
	}
	infos := make([]string, 0, len(coll.Schema.Fields))
	for _, f := range coll.Schema.Fields {
		tp := ""
		if f.TypeParams != nil {
			if dim, ok := f.TypeParams["dim"]; ok {
				tp = fmt.Sprintf("dim=%s", dim)
			}
			if ml, ok := f.TypeParams["max_length"]; ok {
				if tp == "" {
					tp = fmt.Sprintf("max_length=%s", ml)
				} else {
					tp = tp + ",max_length=" + ml
				}
			}
		}
		infos = append(infos, fmt.Sprintf("%s:%s(%s)", f.Name, f.DataType.String(), tp))
	}
	logger.Info(ctx, "Milvus collection schema", "collection", s.collection, "fields", strings.Join(infos, "; "))
	return nil
}
