package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
)

// SchedulerConfig bounds the polling loop.
type SchedulerConfig struct {
	TickInterval time.Duration
	Workers      int
	ClaimLimit   int
	// StaleClaim is the safety timeout after which an in_progress
	// claim is considered abandoned and reclaimable.
	StaleClaim time.Duration
}

// SchedulerMetrics is implemented by the observability layer; a nil
// implementation is tolerated.
type SchedulerMetrics interface {
	PollStarted()
	PollFinished(outcome string, duration time.Duration)
	BackoffScheduled(delay time.Duration)
}

// Scheduler scans due retrieval jobs every tick and polls them on a
// bounded worker pool. Polls for distinct jobs run concurrently; the
// conditional claim in the store serializes polls for the same job.
type Scheduler struct {
	jobs    ports.JobStore
	poller  *PollBatchUseCase
	clock   ports.Clock
	cfg     *SchedulerConfig
	logger  *slog.Logger
	metrics SchedulerMetrics

	// afterParsed chains the chunk/embed pipeline once a document
	// reaches parsed. Failures there are that pipeline's problem, not
	// the poll state machine's.
	afterParsed func(ctx context.Context, documentID string) error
}

func NewScheduler(
	jobs ports.JobStore,
	poller *PollBatchUseCase,
	clock ports.Clock,
	cfg *SchedulerConfig,
	logger *slog.Logger,
	metrics SchedulerMetrics,
	afterParsed func(ctx context.Context, documentID string) error,
) *Scheduler {
	return &Scheduler{
		jobs:        jobs,
		poller:      poller,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		afterParsed: afterParsed,
	}
}

// Run ticks until the context is canceled. Each tick claims due jobs
// and polls them; the first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler_tick_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick claims and polls one batch of due jobs. Split out from Run so
// retry semantics are testable without real time passing.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now().UTC()
	due, err := s.jobs.ClaimDue(ctx, now, s.cfg.StaleClaim, s.cfg.ClaimLimit)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Workers)
	for _, job := range due {
		group.Go(func() error {
			s.pollOne(groupCtx, job)
			return nil
		})
	}
	return group.Wait()
}

func (s *Scheduler) pollOne(ctx context.Context, job domain.RetrievalJob) {
	if s.metrics != nil {
		s.metrics.PollStarted()
	}
	started := s.clock.Now()

	outcome, err := s.poller.Poll(ctx, job)
	duration := s.clock.Now().Sub(started)

	switch {
	case err != nil:
		s.observe("error", duration)
		s.logger.Error("poll_failed",
			"job_id", job.ID, "batch_id", job.BatchID, "attempt", job.Attempt, "error", err)
	case outcome.Completed:
		s.observe("completed", duration)
		s.logger.Info("poll_completed",
			"job_id", job.ID, "batch_id", job.BatchID, "attempt", job.Attempt)
		if s.afterParsed != nil {
			if err := s.afterParsed(ctx, outcome.DocumentID); err != nil {
				s.logger.Error("vectorize_after_parse_failed",
					"document_id", outcome.DocumentID, "error", err)
			}
		}
	case outcome.Failed:
		s.observe("failed", duration)
		s.logger.Warn("poll_exhausted",
			"job_id", job.ID, "batch_id", job.BatchID, "attempt", job.Attempt)
	case outcome.Rescheduled:
		s.observe("rescheduled", duration)
		delay := outcome.NextRun.Sub(s.clock.Now().UTC())
		if s.metrics != nil {
			s.metrics.BackoffScheduled(delay)
		}
		s.logger.Info("poll_rescheduled",
			"job_id", job.ID, "batch_id", job.BatchID, "attempt", job.Attempt,
			"next_run", outcome.NextRun)
	}
}

func (s *Scheduler) observe(outcome string, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.PollFinished(outcome, duration)
	}
}
