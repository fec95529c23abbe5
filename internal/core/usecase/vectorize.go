package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// VectorizeDocumentUseCase turns parsed content into addressable chunks
// with vectors. Replacement is wholesale and delete-then-write: every
// prior chunk of the document leaves both indices and the chunk table
// before any new chunk is written, so a concurrent query sees either
// the old set, nothing, or the new set — never a mix of content hashes.
type VectorizeDocumentUseCase struct {
	docs     ports.DocumentStore
	batches  ports.BatchStore
	chunks   ports.ChunkStore
	storage  ports.ObjectStorage
	chunker  ports.Chunker
	embedder ports.Embedder
	vectors  ports.VectorIndex
	lexical  ports.LexicalIndex
}

func NewVectorizeDocumentUseCase(
	docs ports.DocumentStore,
	batches ports.BatchStore,
	chunks ports.ChunkStore,
	storage ports.ObjectStorage,
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	lexical ports.LexicalIndex,
) *VectorizeDocumentUseCase {
	return &VectorizeDocumentUseCase{
		docs:     docs,
		batches:  batches,
		chunks:   chunks,
		storage:  storage,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
	}
}

// VectorizeParsed picks up a document whose batch completed and whose
// markdown output is on disk.
func (uc *VectorizeDocumentUseCase) VectorizeParsed(ctx context.Context, documentID string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.StatusParsed {
		return domain.WrapError(domain.ErrInvalidInput, "vectorize",
			fmt.Errorf("document %s is %s, want parsed", doc.Path, doc.Status))
	}

	batch, err := uc.batches.GetLatestByDocument(ctx, documentID)
	if err != nil && !domain.IsKind(err, domain.ErrBatchNotFound) {
		return fmt.Errorf("load batch: %w", err)
	}
	var markdownKey string
	if batch != nil && batch.Status == domain.BatchCompleted {
		markdownKey = batch.MarkdownPath
	}
	if markdownKey == "" {
		return domain.WrapError(domain.ErrInvalidInput, "vectorize",
			fmt.Errorf("document %s has no parsed markdown output", doc.Path))
	}

	text, err := uc.readText(ctx, markdownKey)
	if err != nil {
		return err
	}
	return uc.vectorizeText(ctx, doc, text)
}

// VectorizeDirect handles formats that never go through the external
// parser: raw content is chunked as-is and the document jumps from
// unparsed through parsed in the same pass. A row already at parsed is
// a retry after a transient embed or index failure, not a conflict.
func (uc *VectorizeDocumentUseCase) VectorizeDirect(ctx context.Context, doc *domain.Document, text string) error {
	if doc.Status == domain.StatusUnparsed {
		if err := uc.docs.AdvanceStatus(ctx, doc.ID, domain.StatusUnparsed, domain.StatusParsed); err != nil {
			return fmt.Errorf("advance %s to parsed: %w", doc.Path, err)
		}
		doc.Status = domain.StatusParsed
	}
	return uc.vectorizeText(ctx, doc, text)
}

func (uc *VectorizeDocumentUseCase) vectorizeText(ctx context.Context, doc *domain.Document, text string) error {
	pieces := uc.chunker.Split(text)
	if len(pieces) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "vectorize",
			errors.New("chunking produced zero chunks"))
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	texts := make([]string, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, domain.Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Text:       piece.Text,
			PageStart:  piece.PageStart,
			PageEnd:    piece.PageEnd,
			Section:    piece.Section,
			KBCode:     doc.KBCode,
		})
		texts = append(texts, piece.Text)
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "embed chunks", err)
	}
	if len(vectors) != len(chunks) {
		return domain.WrapError(domain.ErrInvalidInput, "embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	// Delete-then-write. The transient gap where a query misses this
	// document is accepted; stale content mixed with new is not.
	if err := uc.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete old vectors", err)
	}
	if err := uc.lexical.DeleteByDocument(ctx, doc.ID); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete old lexical entries", err)
	}
	if err := uc.chunks.ReplaceAll(ctx, doc.ID, chunks); err != nil {
		return domain.WrapError(domain.ErrTemporary, "replace chunk rows", err)
	}

	if err := uc.vectors.Upsert(ctx, chunks, vectors); err != nil {
		return domain.WrapError(domain.ErrTemporary, "upsert vectors", err)
	}
	if err := uc.lexical.Index(ctx, chunks); err != nil {
		return domain.WrapError(domain.ErrTemporary, "index lexical", err)
	}

	if err := uc.docs.AdvanceStatus(ctx, doc.ID, domain.StatusParsed, domain.StatusVectorized); err != nil {
		return fmt.Errorf("advance %s to vectorized: %w", doc.Path, err)
	}
	return nil
}

func (uc *VectorizeDocumentUseCase) readText(ctx context.Context, key string) (string, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "open parsed markdown", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "read parsed markdown", err)
	}
	return string(raw), nil
}
