package usecase

import (
	"context"
	"fmt"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// SyncUseCase reconciles the document store with the directory tree:
// the detector computes the change sets, new and modified files go
// through the normal processing request path, removed files are purged.
type SyncUseCase struct {
	detector ports.ChangeDetector
	requests *ProcessingRequestUseCase
	root     string
}

func NewSyncUseCase(
	detector ports.ChangeDetector,
	requests *ProcessingRequestUseCase,
	root string,
) *SyncUseCase {
	return &SyncUseCase{
		detector: detector,
		requests: requests,
		root:     root,
	}
}

// Sync reconciles one knowledge base. With full set, every known file
// is re-processed regardless of content hash.
func (uc *SyncUseCase) Sync(ctx context.Context, kbCode string, full bool) (*domain.SyncResult, error) {
	detect := uc.detector.Detect
	if full {
		detect = uc.detector.DetectFull
	}
	changes, err := detect(ctx, uc.root, kbCode)
	if err != nil {
		return nil, fmt.Errorf("detect changes: %w", err)
	}

	result := &domain.SyncResult{
		Enqueued: make([]string, 0, len(changes.New)+len(changes.Modified)),
		Removed:  changes.Removed,
	}
	if result.Removed == nil {
		result.Removed = []string{}
	}

	for _, state := range changes.New {
		result.Enqueued = append(result.Enqueued, state.Path)
	}
	for _, state := range changes.Modified {
		result.Enqueued = append(result.Enqueued, state.Path)
	}

	if len(result.Enqueued) > 0 {
		request, err := uc.requests.RequestProcessing(ctx, result.Enqueued, kbCode)
		if err != nil {
			return nil, fmt.Errorf("enqueue changed files: %w", err)
		}
		result.Request = request
	}

	if len(changes.Removed) > 0 {
		if err := uc.requests.RemoveDocuments(ctx, changes.Removed, kbCode); err != nil {
			return nil, fmt.Errorf("purge removed files: %w", err)
		}
	}

	return result, nil
}
