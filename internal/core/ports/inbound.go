package ports

import (
	"context"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

// ProcessingService is the inbound contract consumed by the API layer.
type ProcessingService interface {
	RequestProcessing(ctx context.Context, paths []string, kbCode string) (*domain.ProcessingRequest, error)
	GetStatus(ctx context.Context, requestID string) (*domain.RequestProgress, error)
	RemoveDocuments(ctx context.Context, paths []string, kbCode string) error
	CancelDocument(ctx context.Context, path, kbCode string) error
}

// DocumentProcessor drives one document through submission or, for
// directly extractable formats, straight to the chunk/embed pipeline.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// SearchService answers queries with fused lexical+vector rankings.
type SearchService interface {
	Query(ctx context.Context, text string, k int, scope domain.SearchScope) ([]domain.RankedChunk, error)
}

// SyncService reconciles a knowledge base with its directory tree.
type SyncService interface {
	Sync(ctx context.Context, kbCode string, full bool) (*domain.SyncResult, error)
}

// ChangeDetector compares a directory tree against the stored document
// set. Read-only: callers decide what to do with the sets. DetectFull
// re-emits every known file for a rebuild.
type ChangeDetector interface {
	Detect(ctx context.Context, root, kbCode string) (domain.ChangeSet, error)
	DetectFull(ctx context.Context, root, kbCode string) (domain.ChangeSet, error)
}
