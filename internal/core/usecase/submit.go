package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// SubmitConfig carries the orchestrator's retry policy and the provider
// feature flags, passed by reference at construction.
type SubmitConfig struct {
	Features     domain.ParseFeatures
	InitialDelay time.Duration
	BaseInterval time.Duration
	MaxAttempts  int
}

// SubmitBatchUseCase registers document content with the external
// parser and persists the provider batch id plus the retrieval job that
// will poll it. The batch row is written immediately after the provider
// acknowledges: losing an acknowledged batch id duplicates billable
// work upstream, so nothing else happens between the two.
type SubmitBatchUseCase struct {
	docs    ports.DocumentStore
	batches ports.BatchStore
	jobs    ports.JobStore
	storage ports.ObjectStorage
	parser  ports.Parser
	clock   ports.Clock
	cfg     *SubmitConfig
}

func NewSubmitBatchUseCase(
	docs ports.DocumentStore,
	batches ports.BatchStore,
	jobs ports.JobStore,
	storage ports.ObjectStorage,
	parser ports.Parser,
	clock ports.Clock,
	cfg *SubmitConfig,
) *SubmitBatchUseCase {
	return &SubmitBatchUseCase{
		docs:    docs,
		batches: batches,
		jobs:    jobs,
		storage: storage,
		parser:  parser,
		clock:   clock,
		cfg:     cfg,
	}
}

// Submit drives one document through external submission. Submission
// failures are not retried here: the content is reusable for a fresh
// attempt by the caller, and no provider state exists yet. They are
// recorded as a terminal batch so request status can surface them.
func (uc *SubmitBatchUseCase) Submit(ctx context.Context, doc *domain.Document) (*domain.ParseBatch, error) {
	if doc.Canceled {
		return nil, domain.WrapError(domain.ErrCanceled, "submit batch", fmt.Errorf("document %s canceled", doc.Path))
	}
	if active, err := uc.batches.GetActiveByDocument(ctx, doc.ID); err == nil && active != nil {
		return nil, domain.WrapError(domain.ErrBatchConflict, "submit batch",
			fmt.Errorf("document %s already has active batch %s", doc.Path, active.ID))
	} else if err != nil && !domain.IsKind(err, domain.ErrBatchNotFound) {
		return nil, fmt.Errorf("check active batch: %w", err)
	}

	content, err := uc.storage.Open(ctx, doc.SourceKey())
	if err != nil {
		wrapped := domain.WrapError(domain.ErrInvalidInput, "open staged content", err)
		uc.recordSubmitFailure(ctx, doc, wrapped)
		return nil, wrapped
	}
	defer content.Close()

	batchID, err := uc.parser.Submit(ctx, doc.Path, content, uc.cfg.Features)
	if err != nil {
		uc.recordSubmitFailure(ctx, doc, err)
		return nil, fmt.Errorf("parser submit %s: %w", doc.Path, err)
	}

	now := uc.clock.Now().UTC()
	batch := &domain.ParseBatch{
		ID:          batchID,
		DocumentID:  doc.ID,
		SourcePath:  doc.Path,
		SourceHash:  doc.Hash,
		Status:      domain.BatchSubmitted,
		SubmittedAt: now,
	}
	if err := uc.batches.CreateActive(ctx, batch); err != nil {
		// The provider accepted but the id could not be persisted.
		// Surface loudly: this is the one failure the design exists
		// to make structurally impossible in normal operation.
		return nil, fmt.Errorf("persist acknowledged batch %s for %s: %w", batchID, doc.Path, err)
	}

	job := &domain.RetrievalJob{
		BatchID:      batchID,
		NextRun:      now.Add(uc.cfg.InitialDelay),
		Attempt:      0,
		MaxAttempts:  uc.cfg.MaxAttempts,
		BaseInterval: uc.cfg.BaseInterval,
		Status:       domain.JobScheduled,
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create retrieval job for batch %s: %w", batchID, err)
	}

	return batch, nil
}

// recordSubmitFailure writes a terminal batch row for a submission that
// never produced a provider id, under a local surrogate key. Without it
// the failure lives only in worker logs and status aggregation counts
// the document in flight forever. Best effort: the submit error itself
// is what propagates.
func (uc *SubmitBatchUseCase) recordSubmitFailure(ctx context.Context, doc *domain.Document, cause error) {
	_ = uc.batches.CreateActive(ctx, &domain.ParseBatch{
		ID:          "local-" + uuid.NewString(),
		DocumentID:  doc.ID,
		SourcePath:  doc.Path,
		SourceHash:  doc.Hash,
		Status:      domain.BatchFailed,
		Error:       cause.Error(),
		SubmittedAt: uc.clock.Now().UTC(),
	})
}
