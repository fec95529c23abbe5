package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates all tables idempotently. Retrieval jobs and
// attempts cascade with their batch; batches and chunks cascade with
// their document.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026030101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	name TEXT NOT NULL,
	file_type TEXT NOT NULL,
	size BIGINT NOT NULL DEFAULT 0,
	hash TEXT NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	kb_code TEXT NOT NULL DEFAULT '',
	canceled BOOLEAN NOT NULL DEFAULT FALSE,
	parsed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_path_kb_live
	ON documents(path, kb_code) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_kb_code ON documents(kb_code);

CREATE TABLE IF NOT EXISTS parse_batches (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	source_path TEXT NOT NULL,
	source_hash TEXT NOT NULL,
	markdown_path TEXT NOT NULL DEFAULT '',
	assets_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	retrieved_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_parse_batches_active
	ON parse_batches(document_id) WHERE status IN ('submitted', 'retrieved');
CREATE INDEX IF NOT EXISTS idx_parse_batches_document ON parse_batches(document_id);

CREATE TABLE IF NOT EXISTS retrieval_jobs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES parse_batches(id) ON DELETE CASCADE,
	next_run TIMESTAMPTZ NOT NULL,
	attempt INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL,
	base_interval_ms BIGINT NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	claimed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_retrieval_jobs_due ON retrieval_jobs(status, next_run);
CREATE INDEX IF NOT EXISTS idx_retrieval_jobs_batch ON retrieval_jobs(batch_id);

CREATE TABLE IF NOT EXISTS retrieval_attempts (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES retrieval_jobs(id) ON DELETE CASCADE,
	number INT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	success BOOLEAN NOT NULL DEFAULT FALSE,
	provider_code INT NOT NULL DEFAULT 0,
	provider_msg TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_retrieval_attempts_job ON retrieval_attempts(job_id);

CREATE TABLE IF NOT EXISTS chunks (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	text TEXT NOT NULL,
	page_start INT NOT NULL DEFAULT 0,
	page_end INT NOT NULL DEFAULT 0,
	section TEXT NOT NULL DEFAULT '',
	vector_ref TEXT NOT NULL DEFAULT '',
	kb_code TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_kb_code ON chunks(kb_code);

CREATE TABLE IF NOT EXISTS processing_requests (
	id TEXT PRIMARY KEY,
	paths JSONB NOT NULL,
	kb_code TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
