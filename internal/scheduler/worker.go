package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/config"
	"loan_broker_backend/platform/logger"
)

// PushVerifier re-checks and completes a production push.
type PushVerifier interface {
	VerifyAndPush(ctx context.Context, brokerID, quoteID uuid.UUID) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	verifier PushVerifier
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, verifier PushVerifier, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		verifier: verifier,
		log:      log,
	}

	mux.HandleFunc(TaskPushVerification, w.handlePushVerification)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handlePushVerification retries on transient failures only. A quote that
// moved on or whose tariff changed needs a broker decision, not a retry.
func (w *Worker) handlePushVerification(ctx context.Context, task *asynq.Task) error {
	payload, err := ParsePushVerificationPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	quoteID, err := uuid.Parse(payload.QuoteID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	brokerID, err := uuid.Parse(payload.BrokerID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	err = w.verifier.VerifyAndPush(ctx, brokerID, quoteID)
	if err == nil {
		w.log.Info("push verification completed", "quote_id", quoteID.String())
		return nil
	}

	switch apperr.GetKind(err) {
	case apperr.KindConflict, apperr.KindNotFound, apperr.KindForbidden, apperr.KindValidation:
		w.log.Warn("push verification abandoned", "quote_id", quoteID.String(), "error", err)
		return errors.Join(asynq.SkipRetry, err)
	default:
		return err
	}
}
