package usecase

import (
	"sort"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

type fusedCandidate struct {
	chunk   domain.RankedChunk
	score   float64
	minRank int
}

// fuseRanksRRF combines lexical and vector rankings with Reciprocal
// Rank Fusion: each chunk scores the sum of 1/(c+rank) over every list
// it appears in, rank being its 1-based position. Raw subsystem scores
// are incomparable and are discarded; only order matters. Ties break by
// the smaller minimum rank across lists, then by chunk id, so identical
// inputs always produce identical output.
func fuseRanksRRF(lexical, vector []domain.RankedChunk, c int) []domain.RankedChunk {
	if c <= 0 {
		c = 60
	}

	acc := make(map[string]fusedCandidate, len(lexical)+len(vector))
	addList := func(chunks []domain.RankedChunk) {
		for i, chunk := range chunks {
			rank := i + 1
			cand, seen := acc[chunk.ChunkID]
			if !seen {
				cand = fusedCandidate{chunk: chunk, minRank: rank}
			} else if rank < cand.minRank {
				cand.minRank = rank
			}
			cand.chunk = preferRicherChunk(cand.chunk, chunk)
			cand.score += 1.0 / float64(c+rank)
			acc[chunk.ChunkID] = cand
		}
	}

	addList(lexical)
	addList(vector)

	out := make([]domain.RankedChunk, 0, len(acc))
	minRanks := make(map[string]int, len(acc))
	for id, cand := range acc {
		chunk := cand.chunk
		chunk.Score = cand.score
		out = append(out, chunk)
		minRanks[id] = cand.minRank
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ri, rj := minRanks[out[i].ChunkID], minRanks[out[j].ChunkID]
		if ri != rj {
			return ri < rj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return out
}

func trimRanked(chunks []domain.RankedChunk, k int) []domain.RankedChunk {
	if k <= 0 || len(chunks) <= k {
		return chunks
	}
	return chunks[:k]
}

// preferRicherChunk keeps whichever copy of a duplicated hit carries
// more payload; the lexical and vector indices may return different
// subsets of the chunk's fields.
func preferRicherChunk(current, candidate domain.RankedChunk) domain.RankedChunk {
	if current.ChunkID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Path == "" && candidate.Path != "" {
		current.Path = candidate.Path
	}
	if current.Section == "" && candidate.Section != "" {
		current.Section = candidate.Section
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	return current
}
