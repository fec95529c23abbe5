package qdrant

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

// MemoryIndex is an in-process VectorIndex for dev runs and tests. It
// mirrors the client's payload semantics over a cosine scan.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]memoryPoint
}

type memoryPoint struct {
	chunk  domain.Chunk
	vector []float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: map[string]memoryPoint{}}
}

func (m *MemoryIndex) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, chunk := range chunks {
		id := domain.ChunkID(chunk.DocumentID, chunk.Index)
		m.points[id] = memoryPoint{chunk: chunk, vector: vectors[i]}
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, queryVector []float32, limit int, scope domain.SearchScope) ([]domain.RankedChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.RankedChunk, 0, len(m.points))
	for id, p := range m.points {
		if scope.KBCode != "" && p.chunk.KBCode != scope.KBCode {
			continue
		}
		out = append(out, domain.RankedChunk{
			ChunkID:    id,
			DocumentID: p.chunk.DocumentID,
			Text:       p.chunk.Text,
			Section:    p.chunk.Section,
			Score:      cosine(queryVector, p.vector),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIndex) DeleteByDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.chunk.DocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
