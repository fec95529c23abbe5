package usecase

import (
	"context"
	"fmt"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// ProcessDocumentUseCase is the worker-side entry point for one
// document: externally parsed formats are submitted to the provider and
// left to the poll scheduler; directly extractable formats run through
// the chunk/embed pipeline in the same call. Stages within a document
// are strictly ordered; distinct documents process in parallel.
type ProcessDocumentUseCase struct {
	docs      ports.DocumentStore
	extractor ports.TextExtractor
	submitter *SubmitBatchUseCase
	vectorize *VectorizeDocumentUseCase
}

func NewProcessDocumentUseCase(
	docs ports.DocumentStore,
	extractor ports.TextExtractor,
	submitter *SubmitBatchUseCase,
	vectorize *VectorizeDocumentUseCase,
) *ProcessDocumentUseCase {
	return &ProcessDocumentUseCase{
		docs:      docs,
		extractor: extractor,
		submitter: submitter,
		vectorize: vectorize,
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}
	if doc.Canceled {
		return domain.WrapError(domain.ErrCanceled, "process document",
			fmt.Errorf("document %s canceled", doc.Path))
	}
	if doc.Status == domain.StatusVectorized {
		return nil
	}

	if doc.NeedsExternalParse() {
		// Parsed means the provider already delivered markdown; a
		// redelivered event picks up at vectorization instead of
		// paying for a second parse.
		if doc.Status == domain.StatusParsed {
			return uc.vectorize.VectorizeParsed(ctx, doc.ID)
		}
		if _, err := uc.submitter.Submit(ctx, doc); err != nil {
			// A concurrent worker already holds the active batch;
			// that worker's job will finish the document.
			if domain.IsKind(err, domain.ErrBatchConflict) {
				return nil
			}
			return err
		}
		return nil
	}

	if !uc.extractor.Supports(doc.FileType) {
		return domain.WrapError(domain.ErrInvalidInput, "process document",
			fmt.Errorf("unsupported format %q for %s", doc.FileType, doc.Path))
	}
	text, err := uc.extractor.Extract(ctx, doc.SourceKey())
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "extract text", err)
	}
	return uc.vectorize.VectorizeDirect(ctx, doc, text)
}
