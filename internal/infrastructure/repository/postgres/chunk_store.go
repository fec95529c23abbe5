package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

type ChunkStore struct {
	db *sql.DB
}

func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// ReplaceAll swaps the document's chunk set in one transaction: the old
// rows leave before any new row lands.
func (s *ChunkStore) ReplaceAll(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunks (document_id, chunk_index, text, page_start, page_end, section, vector_ref, kb_code)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, c.DocumentID, c.Index, c.Text, c.PageStart, c.PageEnd, c.Section, c.VectorRef, c.KBCode); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (s *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT document_id, chunk_index, text, page_start, page_end, section, vector_ref, kb_code
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Text, &c.PageStart, &c.PageEnd, &c.Section, &c.VectorRef, &c.KBCode); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
