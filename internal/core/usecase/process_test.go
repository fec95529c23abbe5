package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

func processFixture(parser *parserFake, extractor *extractorFake) (*ProcessDocumentUseCase, *docStoreFake, *batchStoreFake, *jobStoreFake, *storageFake) {
	docs := newDocStoreFake()
	batches := newBatchStoreFake()
	jobs := newJobStoreFake()
	storage := newStorageFake()
	clock := newFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	submitter := NewSubmitBatchUseCase(docs, batches, jobs, storage, parser, clock, &SubmitConfig{
		InitialDelay: 30 * time.Second,
		BaseInterval: time.Minute,
		MaxAttempts:  5,
	})
	chunker := &chunkerFake{pieces: []domain.ChunkPiece{{Text: "chunk"}}}
	vectorize := NewVectorizeDocumentUseCase(docs, batches, newChunkStoreFake(), storage,
		chunker, &embedderFake{}, newVectorIndexFake(), newLexicalIndexFake())
	uc := NewProcessDocumentUseCase(docs, extractor, submitter, vectorize)
	return uc, docs, batches, jobs, storage
}

func TestProcessExternalFormatSubmitsBatch(t *testing.T) {
	parser := &parserFake{submitID: "B1"}
	uc, docs, batches, jobs, storage := processFixture(parser, &extractorFake{})
	_ = storage.Save(context.Background(), domain.SourceKey("doc-1", "a.pdf"), strings.NewReader("%PDF"))
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.pdf", Name: "a.pdf", FileType: "pdf", Status: domain.StatusUnparsed,
	})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if parser.submits != 1 {
		t.Fatalf("pdf must be submitted to the external parser")
	}
	if _, ok := batches.batches["B1"]; !ok {
		t.Fatalf("batch not recorded")
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("retrieval job not scheduled")
	}

	doc, _ := docs.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusUnparsed {
		t.Fatalf("submission alone must not advance the document, got %s", doc.Status)
	}
}

func TestProcessDirectFormatVectorizesInline(t *testing.T) {
	parser := &parserFake{}
	extractor := &extractorFake{text: "# Title\nbody", supported: map[string]bool{"md": true}}
	uc, docs, _, _, _ := processFixture(parser, extractor)
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.md", Name: "a.md", FileType: "md", Status: domain.StatusUnparsed,
	})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if parser.submits != 0 {
		t.Fatalf("markdown must not reach the external parser")
	}
	doc, _ := docs.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusVectorized {
		t.Fatalf("direct path must end vectorized, got %s", doc.Status)
	}
}

func TestProcessVectorizedDocumentIsNoOp(t *testing.T) {
	parser := &parserFake{}
	uc, docs, _, _, _ := processFixture(parser, &extractorFake{})
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.pdf", Name: "a.pdf", FileType: "pdf", Status: domain.StatusVectorized,
	})

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if parser.submits != 0 {
		t.Fatalf("re-delivered event for a finished document must do nothing")
	}
}

func TestProcessActiveBatchConflictIsSwallowed(t *testing.T) {
	parser := &parserFake{submitID: "B2"}
	uc, docs, batches, _, storage := processFixture(parser, &extractorFake{})
	_ = storage.Save(context.Background(), domain.SourceKey("doc-1", "a.pdf"), strings.NewReader("%PDF"))
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.pdf", Name: "a.pdf", FileType: "pdf", Status: domain.StatusUnparsed,
	})
	batches.batches["B1"] = &domain.ParseBatch{ID: "B1", DocumentID: "doc-1", Status: domain.BatchSubmitted}

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("duplicate event must not error while a batch is active: %v", err)
	}
	if parser.submits != 0 {
		t.Fatalf("no second submission may happen")
	}
}

func TestProcessParsedExternalDocumentSkipsResubmission(t *testing.T) {
	parser := &parserFake{submitID: "B9"}
	uc, docs, batches, _, storage := processFixture(parser, &extractorFake{})
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.pdf", Name: "a.pdf", FileType: "pdf", Status: domain.StatusParsed,
	})
	batches.batches["B1"] = &domain.ParseBatch{
		ID: "B1", DocumentID: "doc-1", Status: domain.BatchCompleted,
		MarkdownPath: "parsed/B1/full.md", SubmittedAt: time.Now(),
	}
	_ = storage.Save(context.Background(), "parsed/B1/full.md", strings.NewReader("# Title\nbody"))

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("ProcessByID() error = %v", err)
	}
	if parser.submits != 0 {
		t.Fatalf("parsed document must not be resubmitted to the provider")
	}
	doc, _ := docs.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusVectorized {
		t.Fatalf("redelivered event must finish at vectorized, got %s", doc.Status)
	}
}

func TestProcessDirectRetryAfterTransientEmbedFailure(t *testing.T) {
	docs := newDocStoreFake()
	storage := newStorageFake()
	chunker := &chunkerFake{pieces: []domain.ChunkPiece{{Text: "chunk"}}}
	embedder := &flakyEmbedder{failures: 1}
	vectorize := NewVectorizeDocumentUseCase(docs, newBatchStoreFake(), newChunkStoreFake(), storage,
		chunker, embedder, newVectorIndexFake(), newLexicalIndexFake())
	extractor := &extractorFake{text: "# Notes\nbody", supported: map[string]bool{"md": true}}
	uc := NewProcessDocumentUseCase(docs, extractor, nil, vectorize)
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "notes.md", Name: "notes.md", FileType: "md", Status: domain.StatusUnparsed,
	})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary from failed embed, got %v", err)
	}
	doc, _ := docs.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusParsed {
		t.Fatalf("failed embed must leave the document parsed, got %s", doc.Status)
	}

	if err := uc.ProcessByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("retry after transient failure must succeed, got: %v", err)
	}
	doc, _ = docs.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusVectorized {
		t.Fatalf("retry must finish at vectorized, got %s", doc.Status)
	}
}

// flakyEmbedder fails its first calls, then behaves.
type flakyEmbedder struct {
	failures int
}

func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *flakyEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

func TestProcessCanceledDocumentRejected(t *testing.T) {
	uc, docs, _, _, _ := processFixture(&parserFake{}, &extractorFake{})
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.pdf", Name: "a.pdf", FileType: "pdf", Canceled: true,
	})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestProcessUnsupportedFormatRejected(t *testing.T) {
	extractor := &extractorFake{supported: map[string]bool{"md": true}}
	uc, docs, _, _, _ := processFixture(&parserFake{}, extractor)
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.bin", Name: "a.bin", FileType: "bin", Status: domain.StatusUnparsed,
	})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unsupported format, got %v", err)
	}
}

func TestProcessExtractionFailureRejected(t *testing.T) {
	extractor := &extractorFake{err: errors.New("corrupt xlsx"), supported: map[string]bool{"xlsx": true}}
	uc, docs, _, _, _ := processFixture(&parserFake{}, extractor)
	_ = docs.Create(context.Background(), &domain.Document{
		ID: "doc-1", Path: "a.xlsx", Name: "a.xlsx", FileType: "xlsx", Status: domain.StatusUnparsed,
	})

	err := uc.ProcessByID(context.Background(), "doc-1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for extraction failure, got %v", err)
	}
	doc, _ := docs.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusUnparsed {
		t.Fatalf("failed extraction must leave the document unparsed, got %s", doc.Status)
	}
}
