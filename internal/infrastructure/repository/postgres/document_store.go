package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, path, name, file_type, size, hash, modified_at, status, kb_code, canceled, parsed_at, created_at, updated_at, deleted_at`

func (s *DocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO documents (
	id, path, name, file_type, size, hash, modified_at, status, kb_code, canceled, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		doc.ID, doc.Path, doc.Name, doc.FileType, doc.Size, doc.Hash, doc.ModifiedAt,
		string(doc.Status), doc.KBCode, doc.Canceled, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) GetByPath(ctx context.Context, path, kbCode string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE path = $1 AND kb_code = $2 AND deleted_at IS NULL
`, path, kbCode)
	return scanDocument(row, path)
}

func (s *DocumentStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)
	return scanDocument(row, id)
}

func (s *DocumentStore) ListByKB(ctx context.Context, kbCode string) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE ($1 = '' OR kb_code = $1)
ORDER BY path
`, kbCode)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows, kbCode)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// AdvanceStatus is the conditional update backing the one-way document
// lifecycle: the row moves only if it still holds the expected status.
func (s *DocumentStore) AdvanceStatus(ctx context.Context, id string, from, to domain.DocumentStatus) error {
	now := time.Now().UTC()
	var parsedAt any
	if to == domain.StatusParsed {
		parsedAt = now
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $3, parsed_at = COALESCE($4, parsed_at), updated_at = $5
WHERE id = $1 AND status = $2
`, id, string(from), string(to), parsedAt, now)
	if err != nil {
		return fmt.Errorf("advance document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance document status affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrClaimLost, "advance document status",
			fmt.Errorf("document %s no longer at %s", id, from))
	}
	return nil
}

func (s *DocumentStore) ResetForReparse(ctx context.Context, id string, state domain.FileState) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, hash = $3, size = $4, modified_at = $5, canceled = FALSE, parsed_at = NULL, updated_at = $6
WHERE id = $1 AND deleted_at IS NULL
`, id, string(domain.StatusUnparsed), state.Hash, state.Size, state.ModifiedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	return requireRow(res, domain.ErrDocumentNotFound, "reset document", id)
}

func (s *DocumentStore) MarkCanceled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET canceled = TRUE, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document canceled: %w", err)
	}
	return requireRow(res, domain.ErrDocumentNotFound, "mark document canceled", id)
}

func (s *DocumentStore) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET deleted_at = $2, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL
`, id, now)
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	return requireRow(res, domain.ErrDocumentNotFound, "soft delete document", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, ref string) (*domain.Document, error) {
	var doc domain.Document
	var status string
	err := row.Scan(
		&doc.ID, &doc.Path, &doc.Name, &doc.FileType, &doc.Size, &doc.Hash, &doc.ModifiedAt,
		&status, &doc.KBCode, &doc.Canceled, &doc.ParsedAt, &doc.CreatedAt, &doc.UpdatedAt, &doc.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("%s", ref))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func requireRow(res sql.Result, kind error, op, ref string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(kind, op, fmt.Errorf("%s", ref))
	}
	return nil
}
