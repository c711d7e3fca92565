// Package activity records the quote lifecycle history. It listens on the
// event bus so emitters never wait for, or fail because of, the sink.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"loan_broker_backend/internal/events"
	"loan_broker_backend/platform/logger"
)

// Activity is one persisted lifecycle record.
type Activity struct {
	ID         uuid.UUID
	QuoteID    uuid.UUID
	BrokerID   uuid.UUID
	EventType  string
	Actor      string
	Payload    []byte
	OccurredAt time.Time
}

// Writer persists activity records.
type Writer interface {
	CreateActivity(ctx context.Context, a Activity) error
}

// Repository stores activity records in quote_activities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new activity repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateActivity inserts a single record.
func (r *Repository) CreateActivity(ctx context.Context, a Activity) error {
	var actor *string
	if a.Actor != "" {
		actor = &a.Actor
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO quote_activities (id, quote_id, broker_id, event_type, actor, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.QuoteID, a.BrokerID, a.EventType, actor, a.Payload, a.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quote activity: %w", err)
	}
	return nil
}

// Recorder turns quote events into activity records.
type Recorder struct {
	writer Writer
	log    *logger.Logger
}

// NewRecorder creates a recorder writing through w.
func NewRecorder(w Writer, log *logger.Logger) *Recorder {
	return &Recorder{writer: w, log: log}
}

// RegisterHandlers subscribes the recorder to every quote lifecycle event.
func (r *Recorder) RegisterHandlers(bus events.Bus) {
	for _, name := range events.QuoteNames {
		bus.Subscribe(name, r)
	}
}

// Handle implements events.Handler.
func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	qe, ok := event.(events.QuoteEvent)
	if !ok {
		return nil
	}
	ref := qe.Quote()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.EventName(), err)
	}

	err = r.writer.CreateActivity(ctx, Activity{
		ID:         uuid.New(),
		QuoteID:    ref.QuoteID,
		BrokerID:   ref.BrokerID,
		EventType:  event.EventName(),
		Actor:      ref.Actor,
		Payload:    payload,
		OccurredAt: event.OccurredAt(),
	})
	if err != nil {
		r.log.WithContext(ctx).Error("failed to record quote activity",
			"event", event.EventName(), "quote_id", ref.QuoteID.String(), "error", err)
		return err
	}
	return nil
}
