package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// ChangeDetectorUseCase compares a directory tree against the stored
// document set. It is read-only: callers decide what to do with the
// sets. The mtime is only a pre-filter; the content hash is
// authoritative, so copies that preserve content but refresh timestamps
// are not re-emitted.
type ChangeDetectorUseCase struct {
	docs ports.DocumentStore
}

func NewChangeDetectorUseCase(docs ports.DocumentStore) *ChangeDetectorUseCase {
	return &ChangeDetectorUseCase{docs: docs}
}

// Detect runs an incremental scan: only files whose content actually
// changed are re-emitted.
func (uc *ChangeDetectorUseCase) Detect(ctx context.Context, root, kbCode string) (domain.ChangeSet, error) {
	return uc.scan(ctx, root, kbCode, false)
}

// DetectFull re-emits every known file regardless of stored hash, for
// rebuilding indexes from scratch. Removed detection is unchanged.
func (uc *ChangeDetectorUseCase) DetectFull(ctx context.Context, root, kbCode string) (domain.ChangeSet, error) {
	return uc.scan(ctx, root, kbCode, true)
}

func (uc *ChangeDetectorUseCase) scan(ctx context.Context, root, kbCode string, full bool) (domain.ChangeSet, error) {
	stored, err := uc.docs.ListByKB(ctx, kbCode)
	if err != nil {
		return domain.ChangeSet{}, fmt.Errorf("list stored documents: %w", err)
	}

	byPath := make(map[string]domain.Document, len(stored))
	for _, doc := range stored {
		if doc.DeletedAt != nil {
			continue
		}
		byPath[doc.Path] = doc
	}

	var set domain.ChangeSet
	seen := make(map[string]bool, len(byPath))

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		doc, known := byPath[rel]
		if known {
			seen[rel] = true
			if full {
				state, err := fileState(path, rel, info)
				if err != nil {
					return err
				}
				set.Modified = append(set.Modified, state)
				return nil
			}
			changed, state, err := uc.modified(path, rel, info, doc)
			if err != nil {
				return err
			}
			if changed {
				set.Modified = append(set.Modified, state)
			}
			return nil
		}

		state, err := fileState(path, rel, info)
		if err != nil {
			return err
		}
		set.New = append(set.New, state)
		return nil
	})
	if err != nil {
		return domain.ChangeSet{}, fmt.Errorf("walk %s: %w", root, err)
	}

	for path := range byPath {
		if !seen[path] {
			set.Removed = append(set.Removed, path)
		}
	}

	return set, nil
}

// modified decides whether a known file needs re-processing. A file at
// vectorized with an unchanged hash is never re-emitted; the mtime
// check only spares the hash computation when nothing moved.
func (uc *ChangeDetectorUseCase) modified(absPath, relPath string, info fs.FileInfo, doc domain.Document) (bool, domain.FileState, error) {
	mtimeNewer := info.ModTime().After(doc.ModifiedAt)
	if doc.ParsedAt != nil {
		mtimeNewer = info.ModTime().After(*doc.ParsedAt)
	}
	sizeChanged := info.Size() != doc.Size

	if !mtimeNewer && !sizeChanged {
		return false, domain.FileState{}, nil
	}

	state, err := fileState(absPath, relPath, info)
	if err != nil {
		return false, domain.FileState{}, err
	}
	if state.Hash == doc.Hash {
		return false, domain.FileState{}, nil
	}
	return true, state, nil
}

func fileState(absPath, relPath string, info fs.FileInfo) (domain.FileState, error) {
	hash, err := hashFile(absPath)
	if err != nil {
		return domain.FileState{}, fmt.Errorf("hash %s: %w", absPath, err)
	}
	name := filepath.Base(relPath)
	return domain.FileState{
		Path:       relPath,
		Name:       name,
		FileType:   strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		Hash:       hash,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
