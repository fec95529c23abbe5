package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, batch_id, next_run, attempt, max_attempts, base_interval_ms, status, last_error, claimed_at`

func (s *JobStore) Create(ctx context.Context, job *domain.RetrievalJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO retrieval_jobs (
	id, batch_id, next_run, attempt, max_attempts, base_interval_ms, status, last_error
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		job.ID, job.BatchID, job.NextRun, job.Attempt, job.MaxAttempts,
		job.BaseInterval.Milliseconds(), string(job.Status), job.LastError,
	)
	if err != nil {
		return fmt.Errorf("insert retrieval job: %w", err)
	}
	return nil
}

func (s *JobStore) GetByBatch(ctx context.Context, batchID string) (*domain.RetrievalJob, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM retrieval_jobs
WHERE batch_id = $1
`, batchID)
	return scanJob(row, batchID)
}

// ClaimDue atomically claims due jobs for this worker. The conditional
// UPDATE is the exclusivity mechanism: a job is claimable when it is
// scheduled and due, or when an in_progress claim went stale. The
// attempt counter increments inside the same statement, so two workers
// racing on one job cannot both count the poll.
func (s *JobStore) ClaimDue(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]domain.RetrievalJob, error) {
	rows, err := s.db.QueryContext(ctx, `
UPDATE retrieval_jobs
SET status = 'in_progress', attempt = attempt + 1, claimed_at = $1
WHERE id IN (
	SELECT id FROM retrieval_jobs
	WHERE next_run <= $1
	  AND (status = 'scheduled' OR (status = 'in_progress' AND claimed_at < $2))
	ORDER BY next_run
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns+`
`, now, now.Add(-staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrievalJob
	for rows.Next() {
		job, err := scanJob(rows, "claim")
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return out, nil
}

func (s *JobStore) Reschedule(ctx context.Context, jobID string, nextRun time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE retrieval_jobs
SET status = 'scheduled', next_run = $2, last_error = $3, claimed_at = NULL
WHERE id = $1
`, jobID, nextRun, lastError)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return requireRow(res, domain.ErrJobNotFound, "reschedule job", jobID)
}

func (s *JobStore) Complete(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE retrieval_jobs
SET status = 'completed', claimed_at = NULL
WHERE id = $1
`, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireRow(res, domain.ErrJobNotFound, "complete job", jobID)
}

func (s *JobStore) Fail(ctx context.Context, jobID, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE retrieval_jobs
SET status = 'failed', last_error = $2, claimed_at = NULL
WHERE id = $1
`, jobID, lastError)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return requireRow(res, domain.ErrJobNotFound, "fail job", jobID)
}

func (s *JobStore) AppendAttempt(ctx context.Context, attempt *domain.RetrievalAttempt) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO retrieval_attempts (
	job_id, number, started_at, latency_ms, success, provider_code, provider_msg, error_message
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		attempt.JobID, attempt.Number, attempt.StartedAt, attempt.Latency.Milliseconds(),
		attempt.Success, attempt.ProviderCode, attempt.ProviderMsg, attempt.Error,
	)
	if err != nil {
		return fmt.Errorf("insert retrieval attempt: %w", err)
	}
	return nil
}

func scanJob(row rowScanner, ref string) (*domain.RetrievalJob, error) {
	var job domain.RetrievalJob
	var status string
	var baseIntervalMS int64
	err := row.Scan(
		&job.ID, &job.BatchID, &job.NextRun, &job.Attempt, &job.MaxAttempts,
		&baseIntervalMS, &status, &job.LastError, &job.ClaimedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("%s", ref))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.BaseInterval = time.Duration(baseIntervalMS) * time.Millisecond
	return &job, nil
}
