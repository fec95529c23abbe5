package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// PollConfig bounds the retry-with-backoff loop.
type PollConfig struct {
	BackoffCap time.Duration
}

// PollOutcome tells the scheduler what a poll did with a claimed job.
type PollOutcome struct {
	Completed   bool
	Failed      bool
	Rescheduled bool
	NextRun     time.Time
	DocumentID  string
}

// PollBatchUseCase executes one poll of a claimed retrieval job and
// applies the resulting state transition. The claim itself happens in
// the scheduler via JobStore.ClaimDue; this use case assumes the job is
// exclusively held by the caller.
type PollBatchUseCase struct {
	docs    ports.DocumentStore
	batches ports.BatchStore
	jobs    ports.JobStore
	parser  ports.Parser
	clock   ports.Clock
	cfg     *PollConfig
}

func NewPollBatchUseCase(
	docs ports.DocumentStore,
	batches ports.BatchStore,
	jobs ports.JobStore,
	parser ports.Parser,
	clock ports.Clock,
	cfg *PollConfig,
) *PollBatchUseCase {
	return &PollBatchUseCase{
		docs:    docs,
		batches: batches,
		jobs:    jobs,
		parser:  parser,
		clock:   clock,
		cfg:     cfg,
	}
}

// Poll runs one attempt for the claimed job. The attempt counter was
// already incremented by the claim.
func (uc *PollBatchUseCase) Poll(ctx context.Context, job domain.RetrievalJob) (PollOutcome, error) {
	batch, err := uc.batches.GetByID(ctx, job.BatchID)
	if err != nil {
		return PollOutcome{}, fmt.Errorf("load batch %s: %w", job.BatchID, err)
	}
	doc, err := uc.docs.GetByID(ctx, batch.DocumentID)
	if err != nil {
		return PollOutcome{}, fmt.Errorf("load document %s: %w", batch.DocumentID, err)
	}

	if doc.Canceled {
		cancelErr := domain.WrapError(domain.ErrCanceled, "poll batch", fmt.Errorf("document %s canceled", doc.Path))
		if err := uc.failJobAndBatch(ctx, job, batch.ID, cancelErr.Error()); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Failed: true, DocumentID: doc.ID}, nil
	}

	started := uc.clock.Now().UTC()
	result, pollErr := uc.parser.Poll(ctx, batch.ID)
	latency := uc.clock.Now().UTC().Sub(started)

	attempt := &domain.RetrievalAttempt{
		JobID:       job.ID,
		Number:      job.Attempt,
		StartedAt:   started,
		Latency:     latency,
		ProviderMsg: result.Message,
	}
	attempt.ProviderCode = result.Code

	switch {
	case pollErr != nil && domain.IsKind(pollErr, domain.ErrPermanent):
		attempt.Error = pollErr.Error()
		uc.recordAttempt(ctx, attempt)
		if err := uc.failJobAndBatch(ctx, job, batch.ID, pollErr.Error()); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Failed: true, DocumentID: doc.ID}, nil

	case pollErr != nil:
		attempt.Error = pollErr.Error()
		uc.recordAttempt(ctx, attempt)
		return uc.retryOrFail(ctx, job, batch.ID, doc.ID, pollErr.Error())

	case !result.Ready:
		attempt.Error = "result not ready"
		uc.recordAttempt(ctx, attempt)
		return uc.retryOrFail(ctx, job, batch.ID, doc.ID, "result not ready")
	}

	markdownPath, assetsPath, fetchErr := uc.parser.Fetch(ctx, batch.ID, result.ResultURL)
	if fetchErr != nil {
		attempt.Error = fetchErr.Error()
		uc.recordAttempt(ctx, attempt)
		if domain.IsKind(fetchErr, domain.ErrPermanent) {
			if err := uc.failJobAndBatch(ctx, job, batch.ID, fetchErr.Error()); err != nil {
				return PollOutcome{}, err
			}
			return PollOutcome{Failed: true, DocumentID: doc.ID}, nil
		}
		return uc.retryOrFail(ctx, job, batch.ID, doc.ID, fetchErr.Error())
	}

	attempt.Success = true
	uc.recordAttempt(ctx, attempt)

	retrievedAt := uc.clock.Now().UTC()
	if err := uc.batches.MarkRetrieved(ctx, batch.ID, retrievedAt); err != nil {
		return PollOutcome{}, fmt.Errorf("mark batch retrieved: %w", err)
	}
	if err := uc.batches.Complete(ctx, batch.ID, markdownPath, assetsPath); err != nil {
		return PollOutcome{}, fmt.Errorf("complete batch %s: %w", batch.ID, err)
	}
	if err := uc.jobs.Complete(ctx, job.ID); err != nil {
		return PollOutcome{}, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if err := uc.docs.AdvanceStatus(ctx, doc.ID, domain.StatusUnparsed, domain.StatusParsed); err != nil {
		return PollOutcome{}, fmt.Errorf("advance document %s to parsed: %w", doc.Path, err)
	}

	return PollOutcome{Completed: true, DocumentID: doc.ID}, nil
}

// retryOrFail reschedules the job with exponential backoff, or flips
// the job and batch to failed once the attempt budget is spent. The
// document keeps its pre-failure status either way; it is never
// silently advanced.
func (uc *PollBatchUseCase) retryOrFail(ctx context.Context, job domain.RetrievalJob, batchID, docID, lastError string) (PollOutcome, error) {
	if job.Attempt >= job.MaxAttempts {
		if err := uc.failJobAndBatch(ctx, job, batchID, lastError); err != nil {
			return PollOutcome{}, err
		}
		return PollOutcome{Failed: true, DocumentID: docID}, nil
	}

	// job.Attempt counts the poll that just ran, so the first retry
	// waits exactly the base interval.
	delay := domain.BackoffDelay(job.Attempt-1, job.BaseInterval, uc.cfg.BackoffCap)
	nextRun := uc.clock.Now().UTC().Add(delay)
	if err := uc.jobs.Reschedule(ctx, job.ID, nextRun, lastError); err != nil {
		return PollOutcome{}, fmt.Errorf("reschedule job %s: %w", job.ID, err)
	}
	return PollOutcome{Rescheduled: true, NextRun: nextRun, DocumentID: docID}, nil
}

func (uc *PollBatchUseCase) failJobAndBatch(ctx context.Context, job domain.RetrievalJob, batchID, lastError string) error {
	if err := uc.jobs.Fail(ctx, job.ID, lastError); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if err := uc.batches.Fail(ctx, batchID, lastError); err != nil {
		return fmt.Errorf("fail batch %s: %w", batchID, err)
	}
	return nil
}

// recordAttempt appends to the audit trail. Audit failures do not block
// the state transition; the attempt history is operator-facing, not
// load-bearing.
func (uc *PollBatchUseCase) recordAttempt(ctx context.Context, attempt *domain.RetrievalAttempt) {
	_ = uc.jobs.AppendAttempt(ctx, attempt)
}
