package domain

import "time"

type JobStatus string

const (
	JobScheduled  JobStatus = "scheduled"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// RetrievalJob schedules result polling for one ParseBatch. Exactly one
// live job exists per batch. A job is claimed with a conditional update
// keyed on status, so only one poll is ever in flight; a claim older
// than the stale-claim timeout is reclaimable after a crash.
type RetrievalJob struct {
	ID           string        `json:"id"`
	BatchID      string        `json:"batch_id"`
	NextRun      time.Time     `json:"next_run"`
	Attempt      int           `json:"attempt"`
	MaxAttempts  int           `json:"max_attempts"`
	BaseInterval time.Duration `json:"base_interval"`
	Status       JobStatus     `json:"status"`
	LastError    string        `json:"last_error,omitempty"`
	ClaimedAt    *time.Time    `json:"claimed_at,omitempty"`
}

// RetrievalAttempt is an append-only audit record of one poll.
type RetrievalAttempt struct {
	JobID        string        `json:"job_id"`
	Number       int           `json:"number"`
	StartedAt    time.Time     `json:"started_at"`
	Success      bool          `json:"success"`
	ProviderCode int           `json:"provider_code,omitempty"`
	ProviderMsg  string        `json:"provider_msg,omitempty"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
}

// BackoffDelay computes the retry delay after the given completed
// attempt count: min(base * 2^attempt, cap). Pure so retry timing is
// testable without real time passing.
func BackoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}
