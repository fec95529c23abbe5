package domain

// SearchScope filters retrieval to one knowledge base; a zero scope
// searches everything.
type SearchScope struct {
	KBCode string
}

// RankedChunk is one retrieval hit. Score semantics depend on the
// producing subsystem: BM25 for lexical, cosine similarity for vector,
// reciprocal-rank-fusion sum after fusion.
type RankedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Path       string  `json:"path,omitempty"`
	Section    string  `json:"section,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
