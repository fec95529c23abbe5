package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

type BatchStore struct {
	db *sql.DB
}

func NewBatchStore(db *sql.DB) *BatchStore {
	return &BatchStore{db: db}
}

const batchColumns = `id, document_id, source_path, source_hash, markdown_path, assets_path, status, error_message, submitted_at, retrieved_at`

// CreateActive inserts the provider-acknowledged batch. The partial
// unique index on (document_id) over non-terminal statuses turns a
// concurrent second submission into a constraint violation, which
// surfaces as ErrBatchConflict.
func (s *BatchStore) CreateActive(ctx context.Context, batch *domain.ParseBatch) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO parse_batches (
	id, document_id, source_path, source_hash, status, error_message, submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		batch.ID, batch.DocumentID, batch.SourcePath, batch.SourceHash,
		string(batch.Status), batch.Error, batch.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrBatchConflict, "create batch",
				fmt.Errorf("document %s already has an active batch", batch.DocumentID))
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *BatchStore) GetByID(ctx context.Context, batchID string) (*domain.ParseBatch, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+batchColumns+`
FROM parse_batches
WHERE id = $1
`, batchID)
	return scanBatch(row, batchID)
}

func (s *BatchStore) GetActiveByDocument(ctx context.Context, documentID string) (*domain.ParseBatch, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+batchColumns+`
FROM parse_batches
WHERE document_id = $1 AND status IN ('submitted', 'retrieved')
`, documentID)
	return scanBatch(row, documentID)
}

func (s *BatchStore) GetLatestByDocument(ctx context.Context, documentID string) (*domain.ParseBatch, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+batchColumns+`
FROM parse_batches
WHERE document_id = $1
ORDER BY submitted_at DESC
LIMIT 1
`, documentID)
	return scanBatch(row, documentID)
}

func (s *BatchStore) MarkRetrieved(ctx context.Context, batchID string, retrievedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE parse_batches
SET status = $2, retrieved_at = $3
WHERE id = $1
`, batchID, string(domain.BatchRetrieved), retrievedAt)
	if err != nil {
		return fmt.Errorf("mark batch retrieved: %w", err)
	}
	return requireRow(res, domain.ErrBatchNotFound, "mark batch retrieved", batchID)
}

func (s *BatchStore) Complete(ctx context.Context, batchID, markdownPath, assetsPath string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE parse_batches
SET status = $2, markdown_path = $3, assets_path = $4
WHERE id = $1
`, batchID, string(domain.BatchCompleted), markdownPath, assetsPath)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	return requireRow(res, domain.ErrBatchNotFound, "complete batch", batchID)
}

func (s *BatchStore) Fail(ctx context.Context, batchID, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE parse_batches
SET status = $2, error_message = $3
WHERE id = $1
`, batchID, string(domain.BatchFailed), errMessage)
	if err != nil {
		return fmt.Errorf("fail batch: %w", err)
	}
	return requireRow(res, domain.ErrBatchNotFound, "fail batch", batchID)
}

func scanBatch(row rowScanner, ref string) (*domain.ParseBatch, error) {
	var batch domain.ParseBatch
	var status string
	err := row.Scan(
		&batch.ID, &batch.DocumentID, &batch.SourcePath, &batch.SourceHash,
		&batch.MarkdownPath, &batch.AssetsPath, &status, &batch.Error,
		&batch.SubmittedAt, &batch.RetrievedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("%s", ref))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.Status = domain.BatchStatus(status)
	return &batch, nil
}

// isUniqueViolation matches Postgres error 23505 without binding to a
// driver error type; the pgx stdlib wrapper includes the code in the
// message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
