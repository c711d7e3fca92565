package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"loan_broker_backend/internal/events"
	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/platform/apperr"
)

// MarkSent records that the quote reached the client. Calls after the quote
// moved further are no-ops.
func (s *Service) MarkSent(ctx context.Context, brokerID, id uuid.UUID, actor string) (*repository.Quote, error) {
	now := s.now()
	q, moved, err := s.advance(ctx, brokerID, id,
		[]repository.Status{repository.StatusGenerated},
		repository.StatusSent,
		repository.TransitionPatch{SentAt: &now},
	)
	if err != nil {
		return nil, err
	}
	if moved {
		s.bus.Publish(ctx, events.QuoteSent{BaseEvent: events.NewBaseEvent(), QuoteRef: ref(q, actor)})
	}
	return q, nil
}

// MarkRead records that the client opened the quote. From generated it
// jumps straight to read and back-fills the send time.
func (s *Service) MarkRead(ctx context.Context, brokerID, id uuid.UUID, actor string) (*repository.Quote, error) {
	now := s.now()
	q, moved, err := s.advance(ctx, brokerID, id,
		[]repository.Status{repository.StatusGenerated, repository.StatusSent},
		repository.StatusRead,
		repository.TransitionPatch{SentAt: &now, ReadAt: &now},
	)
	if err != nil {
		return nil, err
	}
	if moved {
		s.bus.Publish(ctx, events.QuoteRead{BaseEvent: events.NewBaseEvent(), QuoteRef: ref(q, actor)})
	}
	return q, nil
}

// Accept records the client's acceptance. Legal from sent or read only.
func (s *Service) Accept(ctx context.Context, brokerID, id uuid.UUID, actor string) (*repository.Quote, error) {
	now := s.now()
	q, err := s.decide(ctx, brokerID, id, "accepted", repository.StatusAccepted, repository.TransitionPatch{
		AcceptedAt: &now,
		AcceptedBy: optional(actor),
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.QuoteAccepted{BaseEvent: events.NewBaseEvent(), QuoteRef: ref(q, actor)})
	return q, nil
}

// Refuse records the client's refusal. The reason is mandatory and kept verbatim.
func (s *Service) Refuse(ctx context.Context, brokerID, id uuid.UUID, actor, reason string) (*repository.Quote, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("a refusal reason is required")
	}

	now := s.now()
	q, err := s.decide(ctx, brokerID, id, "refused", repository.StatusRefused, repository.TransitionPatch{
		RefusedAt:     &now,
		RefusedBy:     optional(actor),
		RefusalReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.QuoteRefused{BaseEvent: events.NewBaseEvent(), QuoteRef: ref(q, actor), Reason: reason})
	return q, nil
}

// advance performs a forward-only, clamped transition. moved is false when
// the quote was already at or past the target.
func (s *Service) advance(ctx context.Context, brokerID, id uuid.UUID, from []repository.Status, to repository.Status, patch repository.TransitionPatch) (*repository.Quote, bool, error) {
	q, err := s.store.GetByID(ctx, id, brokerID)
	if err != nil {
		return nil, false, err
	}
	if q.Locked || !in(q.Status, from) {
		return q, false, nil
	}

	updated, err := s.store.Transition(ctx, id, brokerID, from, to, patch)
	if errors.Is(err, repository.ErrStaleState) {
		// Another caller moved it first; report where it ended up.
		current, getErr := s.store.GetByID(ctx, id, brokerID)
		return current, false, getErr
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// decide applies a terminal client decision from sent or read.
func (s *Service) decide(ctx context.Context, brokerID, id uuid.UUID, action string, to repository.Status, patch repository.TransitionPatch) (*repository.Quote, error) {
	from := []repository.Status{repository.StatusSent, repository.StatusRead}

	q, err := s.store.GetByID(ctx, id, brokerID)
	if err != nil {
		return nil, err
	}
	if q.Locked || !in(q.Status, from) {
		return nil, illegal(q, action)
	}

	updated, err := s.store.Transition(ctx, id, brokerID, from, to, patch)
	if errors.Is(err, repository.ErrStaleState) {
		current, getErr := s.store.GetByID(ctx, id, brokerID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, illegal(current, action)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func in(status repository.Status, set []repository.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
