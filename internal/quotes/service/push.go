package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"loan_broker_backend/internal/brokers"
	"loan_broker_backend/internal/events"
	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/split"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
)

const (
	purposeProductionPush = "production_push"
	systemActor           = "system"
)

// PushToProduction submits an accepted quote to the provider's production
// endpoint and locks it. At most one push per quote succeeds. While the
// outcome of an earlier attempt is unknown the quote cannot be pushed again.
func (s *Service) PushToProduction(ctx context.Context, brokerID, id uuid.UUID, actor string) (*repository.Quote, error) {
	q, err := s.pushable(ctx, brokerID, id)
	if err != nil {
		return nil, err
	}
	if q.PushUnverified {
		return nil, alreadyLocked("production push outcome is being verified")
	}

	claimed, err := s.store.ClaimPush(ctx, id, brokerID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.store.GetByID(ctx, id, brokerID)
		if err == nil && current.PushUnverified {
			return nil, alreadyLocked("production push outcome is being verified")
		}
		return nil, alreadyLocked("production push already in progress")
	}
	return s.push(ctx, q, actor, false)
}

// VerifyAndPush settles a push whose outcome was unknown. It re-checks the
// stored tariff on staging and only pushes when it is still offered at the
// same cost. Locked quotes are already done and quotes without a pending
// verification are left alone.
func (s *Service) VerifyAndPush(ctx context.Context, brokerID, id uuid.UUID) error {
	q, err := s.store.GetByID(ctx, id, brokerID)
	if err != nil {
		return err
	}
	if q.Locked || !q.PushUnverified {
		return nil
	}
	if q.Status != repository.StatusAccepted {
		return illegal(q, "pushed")
	}

	claimed, err := s.store.ClaimVerification(ctx, id, brokerID, s.pushLease)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if err := s.recheck(ctx, q); err != nil {
		if errors.Is(err, ErrTariffChanged) {
			s.releaseClaim(ctx, q.ID, brokerID)
		} else {
			s.markUnverified(ctx, q.ID, brokerID)
		}
		return err
	}

	if _, err := s.push(ctx, q, systemActor, true); err != nil {
		if errors.Is(err, ErrAlreadyLocked) {
			return nil
		}
		return err
	}
	return nil
}

// recheck prices the stored tariff on staging and fails with ErrTariffChanged
// when it is gone or its cost moved.
func (s *Service) recheck(ctx context.Context, q *repository.Quote) error {
	profile, cfg, err := s.pricingContext(ctx, q.BrokerID, q.DossierID)
	if err != nil {
		return err
	}

	fee := q.BrokerFeeMinor
	result, err := s.quoter.Quote(ctx, profile, cfg.Credentials(), client.Options{
		CommissionCode: q.CommissionCode,
		TargetTariffID: q.TariffID,
		BrokerFeeMinor: &fee,
	})
	if err != nil {
		return client.AsAppError(err)
	}
	tariff, ok := result.FindTariff(q.TariffID)
	if !ok || tariff.TotalCostMinor != q.TotalCostMinor {
		return apperr.Wrap(apperr.KindConflict, "tariff changed since acceptance, push cancelled", ErrTariffChanged)
	}
	return nil
}

func (s *Service) pushable(ctx context.Context, brokerID, id uuid.UUID) (*repository.Quote, error) {
	q, err := s.store.GetByID(ctx, id, brokerID)
	if err != nil {
		return nil, err
	}
	if q.Locked {
		return nil, alreadyLocked("quote already pushed to production")
	}
	if q.Status != repository.StatusAccepted {
		return nil, illegal(q, "pushed")
	}
	return q, nil
}

// push runs the production call for a quote whose claim the caller holds.
// A transport failure leaves the outcome unknown: the quote stays unverified
// and only a verification can push it again.
func (s *Service) push(ctx context.Context, q *repository.Quote, actor string, verifying bool) (*repository.Quote, error) {
	simulationID, err := s.submit(ctx, q)
	if err != nil {
		if !client.IsTransport(err) {
			s.releaseClaim(ctx, q.ID, q.BrokerID)
			return nil, client.AsAppError(err)
		}
		s.markUnverified(ctx, q.ID, q.BrokerID)
		if !verifying && s.verifier != nil {
			if schedErr := s.verifier.SchedulePushVerification(context.WithoutCancel(ctx), q.BrokerID, q.ID); schedErr != nil {
				s.log.WithContext(ctx).Error("failed to schedule push verification",
					slog.String("quote_id", q.ID.String()), slog.String("error", schedErr.Error()))
			}
		}
		return nil, client.AsAppError(err)
	}

	locked, err := s.store.CompletePush(context.WithoutCancel(ctx), q.ID, q.BrokerID, simulationID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			s.log.WithContext(ctx).Error("production push accepted but quote could not be locked",
				slog.String("quote_id", q.ID.String()), slog.String("simulation_id", simulationID))
			return nil, alreadyLocked("quote was locked concurrently")
		}
		return nil, err
	}

	s.bus.Publish(ctx, events.QuotePushed{
		BaseEvent:    events.NewBaseEvent(),
		QuoteRef:     ref(locked, actor),
		SimulationID: simulationID,
		TariffID:     locked.TariffID,
	})
	return locked, nil
}

// Claim bookkeeping must happen even if the caller went away.
func (s *Service) releaseClaim(ctx context.Context, id, brokerID uuid.UUID) {
	if err := s.store.ReleasePush(context.WithoutCancel(ctx), id, brokerID); err != nil {
		s.log.WithContext(ctx).Error("failed to release push claim",
			slog.String("quote_id", id.String()), slog.String("error", err.Error()))
	}
}

func (s *Service) markUnverified(ctx context.Context, id, brokerID uuid.UUID) {
	if err := s.store.MarkPushUnverified(context.WithoutCancel(ctx), id, brokerID); err != nil {
		s.log.WithContext(ctx).Error("failed to mark push unverified",
			slog.String("quote_id", id.String()), slog.String("error", err.Error()))
	}
}

// submit performs the single production call and returns the simulation id.
func (s *Service) submit(ctx context.Context, q *repository.Quote) (string, error) {
	profile, cfg, err := s.pricingContext(ctx, q.BrokerID, q.DossierID)
	if err != nil {
		return "", err
	}

	fee := q.BrokerFeeMinor
	result, err := s.quoter.Quote(ctx, profile, cfg.Credentials(), client.Options{
		CommissionCode: q.CommissionCode,
		TargetTariffID: q.TariffID,
		BrokerFeeMinor: &fee,
		UseProduction:  true,
	})
	if result != nil {
		s.archiveExchange(ctx, q, result)
	}
	if err != nil {
		return "", err
	}

	simulationID := strings.TrimSpace(result.SimulationID)
	if simulationID == "" {
		return "", &client.PricingError{Kind: client.KindProviderRejected, Err: errors.New("production answer carried no simulation id")}
	}
	if _, ok := result.FindTariff(q.TariffID); !ok {
		return "", apperr.Wrap(apperr.KindConflict,
			fmt.Sprintf("production did not confirm tariff %s", q.TariffID), ErrTariffChanged)
	}
	return simulationID, nil
}

func (s *Service) archiveExchange(ctx context.Context, q *repository.Quote, result *client.Result) {
	if s.archive == nil {
		return
	}
	err := s.archive.ArchiveExchange(context.WithoutCancel(ctx), Exchange{
		BrokerID:   q.BrokerID,
		QuoteID:    q.ID,
		Purpose:    purposeProductionPush,
		Endpoint:   result.Endpoint,
		Request:    result.RequestBody,
		Response:   result.ResponseBody,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.log.WithContext(ctx).Warn("failed to archive provider exchange",
			slog.String("quote_id", q.ID.String()), slog.String("error", err.Error()))
	}
}

// RepriceParams changes the commercial terms of a generated quote. Empty
// fields keep the stored value.
type RepriceParams struct {
	Actor          string
	CommissionCode string
	BrokerFeeMinor *int64
}

// Reprice refreshes a generated quote's tariff under a new commission code
// or broker fee and recomputes its split.
func (s *Service) Reprice(ctx context.Context, brokerID, id uuid.UUID, p RepriceParams) (*repository.Quote, error) {
	q, err := s.store.GetByID(ctx, id, brokerID)
	if err != nil {
		return nil, err
	}
	if q.Locked {
		return nil, alreadyLocked("quote already pushed to production")
	}
	if q.Status != repository.StatusGenerated {
		return nil, illegal(q, "repriced")
	}

	code := strings.TrimSpace(p.CommissionCode)
	if code == "" {
		code = q.CommissionCode
	}
	rate := q.CommissionRate
	if s.catalog != nil {
		if !s.catalog.IsLegal(q.Insurer, code) {
			return nil, apperr.Validation(fmt.Sprintf("commission code %s is not offered by %s", code, q.Insurer))
		}
		if c, ok := s.catalog.Lookup(code); ok {
			rate = c.Rate
		}
	}

	fee := q.BrokerFeeMinor
	if p.BrokerFeeMinor != nil {
		fee = *p.BrokerFeeMinor
	}
	if fee < 0 {
		return nil, apperr.Validation("broker fee cannot be negative")
	}

	profile, cfg, err := s.pricingContext(ctx, q.BrokerID, q.DossierID)
	if err != nil {
		return nil, err
	}
	result, err := s.quoter.Quote(ctx, profile, cfg.Credentials(), client.Options{
		CommissionCode: code,
		TargetTariffID: q.TariffID,
		BrokerFeeMinor: &fee,
	})
	if err != nil {
		return nil, client.AsAppError(err)
	}
	tariff, ok := result.FindTariff(q.TariffID)
	if !ok || !tariff.Priced() {
		return nil, apperr.Wrap(apperr.KindConflict,
			fmt.Sprintf("tariff %s is no longer offered", q.TariffID), ErrTariffChanged)
	}

	custom := q.ApporteurPct
	shares, err := split.Calculate(split.Input{
		BrokerFeeMinor:      fee,
		Plan:                cfg.Plan,
		ApporteurPresent:    q.ApporteurPct.IsPositive(),
		DefaultApporteurPct: cfg.DefaultApporteurPct,
		CustomApporteurPct:  &custom,
	}, s.schedule)
	if err != nil {
		return nil, err
	}

	updated := *q
	updated.CommissionCode = code
	updated.CommissionRate = rate
	updated.Product = tariff.Product
	updated.TotalCostMinor = tariff.TotalCostMinor
	updated.MonthlyMinor = tariff.MonthlyMinor
	updated.BrokerFeeMinor = shares.BrokerFeeMinor
	updated.ApporteurPct = shares.ApporteurPct
	updated.ApporteurAmountMinor = shares.ApporteurAmountMinor
	updated.PlatformPct = shares.PlatformPct
	updated.PlatformAmountMinor = shares.PlatformAmountMinor
	updated.BrokerNetMinor = shares.BrokerNetMinor
	updated.UpdatedAt = s.now()

	if err := s.store.UpdatePricing(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			current, getErr := s.store.GetByID(ctx, id, brokerID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, illegal(current, "repriced")
		}
		return nil, err
	}

	s.log.WithContext(ctx).Info("quote repriced",
		slog.String("quote_id", id.String()),
		slog.String("commission_code", code),
		slog.Int64("total_cost_minor", updated.TotalCostMinor),
	)
	return &updated, nil
}

// pricingContext loads what every provider call needs and refuses disabled brokers.
func (s *Service) pricingContext(ctx context.Context, brokerID, dossierID uuid.UUID) (wire.Profile, brokers.PricingConfig, error) {
	cfg, err := s.brokers.GetPricingConfig(ctx, brokerID)
	if err != nil {
		return wire.Profile{}, brokers.PricingConfig{}, err
	}
	if !cfg.Enabled {
		return wire.Profile{}, brokers.PricingConfig{}, apperr.Forbidden("pricing is disabled for this broker")
	}
	profile, err := s.profiles.GetProfile(ctx, brokerID, dossierID)
	if err != nil {
		return wire.Profile{}, brokers.PricingConfig{}, err
	}
	return profile, cfg, nil
}
