package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// RequestConfig scopes caller-facing processing requests.
type RequestConfig struct {
	// Root is the directory document paths are relative to.
	Root string
	// MaxFileSize rejects oversized files synchronously; zero
	// disables the check.
	MaxFileSize int64
}

// ProcessingRequestUseCase implements the caller-facing operations:
// request processing of paths, read progress, remove documents, cancel.
// Input errors (missing file, unsupported format, oversized file) are
// rejected here and never enter the state machine.
type ProcessingRequestUseCase struct {
	docs     ports.DocumentStore
	batches  ports.BatchStore
	chunks   ports.ChunkStore
	requests ports.RequestStore
	vectors  ports.VectorIndex
	lexical  ports.LexicalIndex
	queue    ports.MessageQueue
	storage  ports.ObjectStorage
	clock    ports.Clock
	cfg      *RequestConfig
}

func NewProcessingRequestUseCase(
	docs ports.DocumentStore,
	batches ports.BatchStore,
	chunks ports.ChunkStore,
	requests ports.RequestStore,
	vectors ports.VectorIndex,
	lexical ports.LexicalIndex,
	queue ports.MessageQueue,
	storage ports.ObjectStorage,
	clock ports.Clock,
	cfg *RequestConfig,
) *ProcessingRequestUseCase {
	return &ProcessingRequestUseCase{
		docs:     docs,
		batches:  batches,
		chunks:   chunks,
		requests: requests,
		vectors:  vectors,
		lexical:  lexical,
		queue:    queue,
		storage:  storage,
		clock:    clock,
		cfg:      cfg,
	}
}

// RequestProcessing validates every path, registers or refreshes the
// documents, and hands each one to the worker queue. Validation is
// all-or-nothing: a single bad path fails the request before any
// document is touched.
func (uc *ProcessingRequestUseCase) RequestProcessing(ctx context.Context, paths []string, kbCode string) (*domain.ProcessingRequest, error) {
	if len(paths) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "request processing", fmt.Errorf("no paths given"))
	}

	states := make([]domain.FileState, 0, len(paths))
	for _, path := range paths {
		state, err := uc.validatePath(path)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	now := uc.clock.Now().UTC()
	req := &domain.ProcessingRequest{
		ID:        uuid.NewString(),
		Paths:     paths,
		KBCode:    kbCode,
		CreatedAt: now,
	}
	if err := uc.requests.Create(ctx, req); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "persist request", err)
	}

	for _, state := range states {
		docID, err := uc.upsertDocument(ctx, state, kbCode, now)
		if err != nil {
			return nil, err
		}
		if docID == "" {
			continue // already vectorized and unchanged
		}
		// The worker reads content from object storage, never from the
		// caller's tree, so the source is staged before the event goes out.
		if err := uc.stageSource(ctx, docID, state); err != nil {
			return nil, err
		}
		if err := uc.queue.PublishProcessDocument(ctx, docID); err != nil {
			return nil, domain.WrapError(domain.ErrTemporary, "publish processing event", err)
		}
	}
	return req, nil
}

func (uc *ProcessingRequestUseCase) stageSource(ctx context.Context, docID string, state domain.FileState) error {
	abs := filepath.Join(uc.cfg.Root, filepath.FromSlash(state.Path))
	f, err := os.Open(abs)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "open source content", err)
	}
	defer f.Close()

	if err := uc.storage.Save(ctx, domain.SourceKey(docID, state.Name), f); err != nil {
		return domain.WrapError(domain.ErrTemporary, "stage source content", err)
	}
	return nil
}

// GetStatus aggregates per-document progress for a request. Status
// fields of the store are the only progress signal consulted.
func (uc *ProcessingRequestUseCase) GetStatus(ctx context.Context, requestID string) (*domain.RequestProgress, error) {
	req, err := uc.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	progress := &domain.RequestProgress{
		RequestID: req.ID,
		Total:     len(req.Paths),
		Errors:    map[string]string{},
	}
	for _, path := range req.Paths {
		doc, err := uc.docs.GetByPath(ctx, path, req.KBCode)
		if err != nil {
			if domain.IsKind(err, domain.ErrDocumentNotFound) {
				progress.Failed++
				progress.Errors[path] = "document record missing"
				continue
			}
			return nil, fmt.Errorf("load document %s: %w", path, err)
		}

		if doc.Status == domain.StatusVectorized {
			progress.Completed++
			continue
		}

		batch, err := uc.batches.GetLatestByDocument(ctx, doc.ID)
		if err != nil && !domain.IsKind(err, domain.ErrBatchNotFound) {
			return nil, fmt.Errorf("load batch for %s: %w", path, err)
		}
		if batch != nil && batch.Status == domain.BatchFailed {
			progress.Failed++
			progress.Errors[path] = batch.Error
			continue
		}
		progress.InFlight++
	}

	progress.Terminal = progress.InFlight == 0
	if len(progress.Errors) == 0 {
		progress.Errors = nil
	}
	return progress, nil
}

// RemoveDocuments drops chunks from both indices and the chunk table,
// then soft-deletes the document rows. Batches and attempts cascade
// with the document in the schema; the document row itself is kept as a
// tombstone. Every path is attempted; failures are collected per path
// so one broken index entry cannot shield the rest of the batch.
func (uc *ProcessingRequestUseCase) RemoveDocuments(ctx context.Context, paths []string, kbCode string) error {
	var errs []error
	for _, path := range paths {
		if err := uc.removeDocument(ctx, path, kbCode); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (uc *ProcessingRequestUseCase) removeDocument(ctx context.Context, path, kbCode string) error {
	doc, err := uc.docs.GetByPath(ctx, path, kbCode)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil
		}
		return fmt.Errorf("load document: %w", err)
	}

	if err := uc.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete vectors", err)
	}
	if err := uc.lexical.DeleteByDocument(ctx, doc.ID); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete lexical entries", err)
	}
	if err := uc.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete chunk rows", err)
	}
	if err := uc.docs.SoftDelete(ctx, doc.ID); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	return nil
}

// CancelDocument flags a document so the orchestrator fails its job
// before the next poll. No in-flight provider call is aborted.
func (uc *ProcessingRequestUseCase) CancelDocument(ctx context.Context, path, kbCode string) error {
	doc, err := uc.docs.GetByPath(ctx, path, kbCode)
	if err != nil {
		return err
	}
	return uc.docs.MarkCanceled(ctx, doc.ID)
}

func (uc *ProcessingRequestUseCase) validatePath(path string) (domain.FileState, error) {
	abs := filepath.Join(uc.cfg.Root, filepath.FromSlash(path))
	info, err := os.Stat(abs)
	if err != nil {
		return domain.FileState{}, domain.WrapError(domain.ErrInvalidInput, "stat document", err)
	}
	if info.IsDir() {
		return domain.FileState{}, domain.WrapError(domain.ErrInvalidInput, "stat document",
			fmt.Errorf("%s is a directory", path))
	}
	if uc.cfg.MaxFileSize > 0 && info.Size() > uc.cfg.MaxFileSize {
		return domain.FileState{}, domain.WrapError(domain.ErrInvalidInput, "stat document",
			fmt.Errorf("%s exceeds size limit (%d > %d bytes)", path, info.Size(), uc.cfg.MaxFileSize))
	}
	state, err := fileState(abs, filepath.ToSlash(path), info)
	if err != nil {
		return domain.FileState{}, domain.WrapError(domain.ErrInvalidInput, "hash document", err)
	}
	return state, nil
}

// upsertDocument returns the id to enqueue, or "" when the document is
// already fully processed and unchanged. A changed hash resets the
// lifecycle to unparsed before re-processing — the one legal backward
// transition.
func (uc *ProcessingRequestUseCase) upsertDocument(ctx context.Context, state domain.FileState, kbCode string, now time.Time) (string, error) {
	existing, err := uc.docs.GetByPath(ctx, state.Path, kbCode)
	if err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return "", fmt.Errorf("load document %s: %w", state.Path, err)
	}

	if existing == nil {
		doc := &domain.Document{
			ID:         uuid.NewString(),
			Path:       state.Path,
			Name:       state.Name,
			FileType:   state.FileType,
			Size:       state.Size,
			Hash:       state.Hash,
			ModifiedAt: state.ModifiedAt,
			Status:     domain.StatusUnparsed,
			KBCode:     kbCode,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := uc.docs.Create(ctx, doc); err != nil {
			return "", domain.WrapError(domain.ErrTemporary, "create document", err)
		}
		return doc.ID, nil
	}

	if existing.Hash == state.Hash {
		if existing.Status == domain.StatusVectorized {
			return "", nil
		}
		return existing.ID, nil
	}

	if err := uc.docs.ResetForReparse(ctx, existing.ID, state); err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "reset document for reparse", err)
	}
	return existing.ID, nil
}
