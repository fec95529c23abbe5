package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// RetrieveConfig tunes the fusion engine.
type RetrieveConfig struct {
	// OverFetch multiplies k for the per-subsystem candidate pull so
	// fusion has material beyond the final cut.
	OverFetch int
	RRFC      int
	DefaultK  int
}

// HybridSearchUseCase answers queries by fusing lexical (BM25) and
// vector rankings with reciprocal rank fusion. Read-only against
// committed chunk data.
type HybridSearchUseCase struct {
	embedder ports.Embedder
	vectors  ports.VectorIndex
	lexical  ports.LexicalIndex
	cfg      *RetrieveConfig
}

func NewHybridSearchUseCase(
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	lexical ports.LexicalIndex,
	cfg *RetrieveConfig,
) *HybridSearchUseCase {
	return &HybridSearchUseCase{
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		cfg:      cfg,
	}
}

func (uc *HybridSearchUseCase) Query(ctx context.Context, text string, k int, scope domain.SearchScope) ([]domain.RankedChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "query", fmt.Errorf("empty query text"))
	}
	if k <= 0 {
		k = uc.cfg.DefaultK
	}
	overFetch := uc.cfg.OverFetch
	if overFetch < 1 {
		overFetch = 1
	}
	candidates := k * overFetch

	lexicalHits, err := uc.lexical.Query(ctx, text, candidates, scope)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "lexical search", err)
	}

	queryVector, err := uc.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed query", err)
	}
	vectorHits, err := uc.vectors.Query(ctx, queryVector, candidates, scope)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "vector search", err)
	}

	fused := fuseRanksRRF(lexicalHits, vectorHits, uc.cfg.RRFC)
	return trimRanked(fused, k), nil
}
