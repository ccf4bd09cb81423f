package models

// NoPage marks chunks that come from non-paginated documents.
const NoPage = -1

// Chunk is the unit of indexing. Immutable once ingested.
type Chunk struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Page    int    `json:"page"`
	ChunkID string `json:"chunk_id"`
}

// Metadata returns the primitive metadata stored next to the chunk text.
func (c Chunk) Metadata() map[string]any {
	return map[string]any{
		"source":   c.Source,
		"page":     c.Page,
		"chunk_id": c.ChunkID,
	}
}

// Hit is a ranked chunk for one query. Higher Score is more relevant.
type Hit struct {
	Text    string  `json:"text"`
	Source  string  `json:"source"`
	Page    int     `json:"page"`
	ChunkID string  `json:"id"`
	Score   float64 `json:"score"`
}

// WebResult is one organic result of the keyword search API.
type WebResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}
