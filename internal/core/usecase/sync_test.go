package usecase

import (
	"context"
	"testing"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

func syncFixture(t *testing.T) (*SyncUseCase, *docStoreFake, *queueFake, string) {
	t.Helper()
	requests, docs, _, _, _, _, _, queue, _, root := requestFixture(t)
	detector := NewChangeDetectorUseCase(docs)
	return NewSyncUseCase(detector, requests, root), docs, queue, root
}

func TestSyncEnqueuesNewFiles(t *testing.T) {
	uc, docs, queue, root := syncFixture(t)
	writeFile(t, root, "a.md", "# one")
	writeFile(t, root, "b.md", "# two")

	result, err := uc.Sync(context.Background(), "kb", false)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Request == nil || len(result.Enqueued) != 2 {
		t.Fatalf("expected processing request for 2 files, got %+v", result)
	}
	if len(queue.published) != 2 {
		t.Fatalf("expected 2 enqueued documents, got %d", len(queue.published))
	}
	if _, err := docs.GetByPath(context.Background(), "a.md", "kb"); err != nil {
		t.Fatalf("new file not registered: %v", err)
	}
}

func TestSyncPurgesRemovedFiles(t *testing.T) {
	uc, docs, _, root := syncFixture(t)
	writeFile(t, root, "keep.md", "stay")

	// A stored vectorized document whose file is gone from the tree.
	ghost := &domain.Document{
		ID:     "doc-ghost",
		Path:   "gone.md",
		KBCode: "kb",
		Status: domain.StatusVectorized,
		Hash:   sha256Hex("old"),
	}
	if err := docs.Create(context.Background(), ghost); err != nil {
		t.Fatalf("seed ghost document: %v", err)
	}

	result, err := uc.Sync(context.Background(), "kb", false)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "gone.md" {
		t.Fatalf("expected gone.md purged, got %v", result.Removed)
	}
	if _, err := docs.GetByPath(context.Background(), "gone.md", "kb"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("purged document must be tombstoned, got %v", err)
	}
}

func TestSyncFullReEmitsStalledDocuments(t *testing.T) {
	uc, docs, queue, root := syncFixture(t)
	writeFile(t, root, "stuck.md", "content")

	if _, err := uc.Sync(context.Background(), "kb", false); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected initial enqueue, got %d", len(queue.published))
	}

	// Document never left unparsed. An incremental sync sees an
	// unchanged hash on a known file and emits nothing; a full sync
	// re-enqueues it.
	result, err := uc.Sync(context.Background(), "kb", false)
	if err != nil {
		t.Fatalf("incremental resync: %v", err)
	}
	if len(result.Enqueued) != 0 {
		t.Fatalf("incremental resync must not re-emit unchanged files, got %v", result.Enqueued)
	}

	result, err = uc.Sync(context.Background(), "kb", true)
	if err != nil {
		t.Fatalf("full resync: %v", err)
	}
	if len(result.Enqueued) != 1 || result.Enqueued[0] != "stuck.md" {
		t.Fatalf("full resync must re-emit known files, got %v", result.Enqueued)
	}
	if len(queue.published) != 2 {
		t.Fatalf("stalled unparsed document must be re-enqueued, got %d publishes", len(queue.published))
	}

	doc, err := docs.GetByPath(context.Background(), "stuck.md", "kb")
	if err != nil {
		t.Fatalf("document lookup: %v", err)
	}
	if doc.Status != domain.StatusUnparsed {
		t.Fatalf("unexpected status %q", doc.Status)
	}
}

func TestSyncNoChangesIsNoOp(t *testing.T) {
	uc, _, queue, _ := syncFixture(t)

	result, err := uc.Sync(context.Background(), "kb", false)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Request != nil || len(result.Enqueued) != 0 || len(result.Removed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if len(queue.published) != 0 {
		t.Fatalf("no-op sync must not enqueue anything")
	}
}
