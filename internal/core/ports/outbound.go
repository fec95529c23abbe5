package ports

import (
	"context"
	"io"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

// DocumentStore persists document lifecycle state.
type DocumentStore interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByPath(ctx context.Context, path, kbCode string) (*domain.Document, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByKB(ctx context.Context, kbCode string) ([]domain.Document, error)
	// AdvanceStatus is conditional: the row is updated only when its
	// current status equals from, eliminating lost-update races.
	AdvanceStatus(ctx context.Context, id string, from, to domain.DocumentStatus) error
	// ResetForReparse rewinds a modified document to unparsed and
	// records its new hash/size/mtime in one statement.
	ResetForReparse(ctx context.Context, id string, state domain.FileState) error
	MarkCanceled(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
}

// BatchStore persists parse batches. CreateActive must refuse a second
// non-terminal batch for the same document.
type BatchStore interface {
	CreateActive(ctx context.Context, batch *domain.ParseBatch) error
	GetByID(ctx context.Context, batchID string) (*domain.ParseBatch, error)
	GetActiveByDocument(ctx context.Context, documentID string) (*domain.ParseBatch, error)
	// GetLatestByDocument returns the most recently submitted batch,
	// terminal or not.
	GetLatestByDocument(ctx context.Context, documentID string) (*domain.ParseBatch, error)
	MarkRetrieved(ctx context.Context, batchID string, retrievedAt time.Time) error
	Complete(ctx context.Context, batchID, markdownPath, assetsPath string) error
	Fail(ctx context.Context, batchID, errMessage string) error
}

// JobStore persists retrieval jobs and their attempt audit trail. All
// transitions are conditional updates keyed by current status.
type JobStore interface {
	Create(ctx context.Context, job *domain.RetrievalJob) error
	GetByBatch(ctx context.Context, batchID string) (*domain.RetrievalJob, error)
	// ClaimDue atomically selects and claims up to limit jobs whose
	// next_run <= now and whose status is scheduled, or in_progress
	// with a claim older than staleAfter.
	ClaimDue(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]domain.RetrievalJob, error)
	// Reschedule releases a claimed job back to scheduled with the
	// given next run time and records the last error.
	Reschedule(ctx context.Context, jobID string, nextRun time.Time, lastError string) error
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, lastError string) error
	AppendAttempt(ctx context.Context, attempt *domain.RetrievalAttempt) error
}

// ChunkStore persists chunk rows. ReplaceAll deletes every chunk of the
// document before inserting the new set.
type ChunkStore interface {
	ReplaceAll(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// RequestStore persists caller-facing processing requests.
type RequestStore interface {
	Create(ctx context.Context, req *domain.ProcessingRequest) error
	GetByID(ctx context.Context, id string) (*domain.ProcessingRequest, error)
}

// PollResult is the provider's answer to one poll.
type PollResult struct {
	Ready     bool
	ResultURL string
	// Code/Message mirror the provider response for the audit trail.
	Code    int
	Message string
}

// Parser is the external parsing provider. Submit registers content and
// returns the provider-assigned batch id; the id is opaque and never
// invented locally.
type Parser interface {
	Submit(ctx context.Context, path string, content io.Reader, features domain.ParseFeatures) (batchID string, err error)
	Poll(ctx context.Context, batchID string) (PollResult, error)
	// Fetch downloads the result archive and extracts it, returning
	// the markdown file path and extracted assets directory.
	Fetch(ctx context.Context, batchID, resultURL string) (markdownPath, assetsPath string, err error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the vector search collaborator.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Query(ctx context.Context, vector []float32, k int, scope domain.SearchScope) ([]domain.RankedChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// LexicalIndex is the keyword search collaborator (BM25 family).
type LexicalIndex interface {
	Index(ctx context.Context, chunks []domain.Chunk) error
	Query(ctx context.Context, text string, k int, scope domain.SearchScope) ([]domain.RankedChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ObjectStorage stores source documents and parse results.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue carries processing requests from the API to the worker.
type MessageQueue interface {
	PublishProcessDocument(ctx context.Context, documentID string) error
	SubscribeProcessDocument(ctx context.Context, handler func(context.Context, string) error) error
}

// Chunker applies the chunk boundary policy: bounded slices with
// overlap, structural boundaries preferred over raw cuts.
type Chunker interface {
	Split(text string) []domain.ChunkPiece
}

// TextExtractor pulls plain text out of formats that skip the external
// parser (markdown, plain text, spreadsheets).
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
	Supports(fileType string) bool
}

// Clock abstracts time for the scheduler and backoff computation.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
