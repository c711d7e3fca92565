package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	quotesrepo "loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/platform/logger"
)

const (
	defaultSweepInterval = time.Minute
	sweepBatchSize       = 50
)

// AbandonedPushReleaser hands back pushes whose outcome nobody is settling.
type AbandonedPushReleaser interface {
	ReleaseAbandonedPushes(ctx context.Context, cutoff time.Time, limit int) ([]quotesrepo.AbandonedPush, error)
}

// VerificationScheduler enqueues a push verification.
type VerificationScheduler interface {
	SchedulePushVerification(ctx context.Context, brokerID, quoteID uuid.UUID) error
}

// PushSweeper periodically hands abandoned production pushes to verification.
type PushSweeper struct {
	repo      AbandonedPushReleaser
	scheduler VerificationScheduler
	log       *logger.Logger
	interval  time.Duration
	lease     time.Duration
	now       func() time.Time
}

func NewPushSweeper(repo AbandonedPushReleaser, scheduler VerificationScheduler, log *logger.Logger, interval, lease time.Duration) *PushSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &PushSweeper{
		repo:      repo,
		scheduler: scheduler,
		log:       log,
		interval:  interval,
		lease:     lease,
		now:       time.Now,
	}
}

func (s *PushSweeper) Run(ctx context.Context) {
	if s == nil || s.repo == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PushSweeper) sweep(ctx context.Context) {
	released, err := s.repo.ReleaseAbandonedPushes(ctx, s.now().Add(-s.lease), sweepBatchSize)
	if err != nil {
		s.log.Warn("push sweep failed", "error", err)
		return
	}

	for _, p := range released {
		if err := s.scheduler.SchedulePushVerification(ctx, p.BrokerID, p.ID); err != nil {
			s.log.Warn("failed to schedule push verification", "quote_id", p.ID.String(), "error", err)
		}
	}
	if len(released) > 0 {
		s.log.Info("abandoned pushes sent to verification", "count", len(released))
	}
}
