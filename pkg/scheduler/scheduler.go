// Package scheduler delivers due resumptions back to the engine: timer nodes
// whose delay elapsed and join barriers whose deadline passed. It is a
// polling orchestrator; the engine itself never sleeps.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nocodile/docflow/pkg/engine"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/nocodile/docflow/pkg/persistence"
)

// Scheduler polls persistence for due resumptions and hands each one to the
// engine exactly once. Claims are one-shot, so running several scheduler
// replicas against one database is safe.
type Scheduler struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
	cron        *cron.Cron
	now         func() time.Time

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler polling once per minute.
func NewScheduler(p persistence.Persistence, e *engine.Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		persistence: p,
		engine:      e,
		logger:      logger.With("module", "scheduler"),
		cron:        cron.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the polling loop. Starting an already started scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	_, err := s.cron.AddFunc("* * * * *", func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Resumption poll failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.started = true
	s.logger.InfoContext(ctx, "Scheduler started")

	return nil
}

// Stop halts polling and waits for an in-flight poll to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.started = false
	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

// RunOnce performs one poll pass: claim every due resumption and deliver it.
// Delivery failures are logged per resumption; one broken document does not
// stall the rest of the queue.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	due, err := s.persistence.RunState().DueResumptions(ctx, s.now())
	if err != nil {
		return err
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due resumptions", "count", len(due))
	}

	for _, resumption := range due {
		claimed, err := s.persistence.RunState().ClaimResumption(ctx, resumption.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to claim resumption",
				"resumption_id", resumption.ID, "error", err)

			continue
		}

		if !claimed {
			// Another replica won the claim.
			continue
		}

		if err := s.deliver(ctx, resumption); err != nil {
			s.logger.ErrorContext(ctx, "Failed to deliver resumption",
				"resumption_id", resumption.ID,
				"kind", resumption.Kind,
				"document_id", resumption.DocumentID,
				"error", err)
		}
	}

	return nil
}

func (s *Scheduler) deliver(ctx context.Context, resumption *models.PendingResumption) error {
	s.logger.InfoContext(ctx, "Delivering resumption",
		"resumption_id", resumption.ID,
		"kind", resumption.Kind,
		"document_id", resumption.DocumentID,
		"node_id", resumption.NodeID)

	switch resumption.Kind {
	case models.ResumptionJoinTimeout:
		_, err := s.engine.HandleJoinTimeout(ctx, resumption)

		return err
	default:
		_, err := s.engine.ResumeTimer(ctx, resumption)

		return err
	}
}
