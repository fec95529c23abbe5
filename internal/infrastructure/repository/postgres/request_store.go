package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

func (s *RequestStore) Create(ctx context.Context, req *domain.ProcessingRequest) error {
	pathsJSON, err := json.Marshal(req.Paths)
	if err != nil {
		return fmt.Errorf("marshal paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO processing_requests (id, paths, kb_code, created_at)
VALUES ($1,$2,$3,$4)
`, req.ID, pathsJSON, req.KBCode, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *RequestStore) GetByID(ctx context.Context, id string) (*domain.ProcessingRequest, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, paths, kb_code, created_at
FROM processing_requests
WHERE id = $1
`, id)

	var req domain.ProcessingRequest
	var pathsRaw []byte
	err := row.Scan(&req.ID, &pathsRaw, &req.KBCode, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRequestNotFound, "get request", fmt.Errorf("%s", id))
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	if err := json.Unmarshal(pathsRaw, &req.Paths); err != nil {
		return nil, fmt.Errorf("unmarshal paths: %w", err)
	}
	return &req, nil
}
