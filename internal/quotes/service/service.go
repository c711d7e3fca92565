// Package service owns the quote lifecycle: generation, client-facing
// transitions and the single production push.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loan_broker_backend/internal/brokers"
	"loan_broker_backend/internal/events"
	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/split"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/logger"
)

var (
	// ErrIllegalTransition is wrapped when a transition is not allowed from the current status.
	ErrIllegalTransition = errors.New("illegal quote transition")
	// ErrAlreadyLocked is wrapped when the quote is locked or its push is in flight.
	ErrAlreadyLocked = errors.New("quote already locked")
	// ErrTariffChanged is wrapped when the provider no longer offers the stored tariff as priced.
	ErrTariffChanged = errors.New("tariff no longer matches the quote")
)

// Store is the quote persistence the lifecycle relies on.
type Store interface {
	Create(ctx context.Context, q *repository.Quote) error
	GetByID(ctx context.Context, id, brokerID uuid.UUID) (*repository.Quote, error)
	Transition(ctx context.Context, id, brokerID uuid.UUID, from []repository.Status, to repository.Status, patch repository.TransitionPatch) (*repository.Quote, error)
	UpdatePricing(ctx context.Context, q *repository.Quote) error
	ClaimPush(ctx context.Context, id, brokerID uuid.UUID) (bool, error)
	ClaimVerification(ctx context.Context, id, brokerID uuid.UUID, lease time.Duration) (bool, error)
	MarkPushUnverified(ctx context.Context, id, brokerID uuid.UUID) error
	ReleasePush(ctx context.Context, id, brokerID uuid.UUID) error
	CompletePush(ctx context.Context, id, brokerID uuid.UUID, simulationID string, pushedAt time.Time) (*repository.Quote, error)
}

// ProfileReader loads the loan/client profile of a dossier.
type ProfileReader interface {
	GetProfile(ctx context.Context, brokerID, dossierID uuid.UUID) (wire.Profile, error)
}

// BrokerReader loads the broker's provider configuration.
type BrokerReader interface {
	GetPricingConfig(ctx context.Context, brokerID uuid.UUID) (brokers.PricingConfig, error)
}

// CommissionCatalog validates commission codes.
type CommissionCatalog interface {
	IsLegal(insurerID, code string) bool
	Lookup(code string) (catalog.Code, bool)
	ResolveInsurer(name string) (string, bool)
}

// Exchange is a raw provider request/response pair worth keeping.
type Exchange struct {
	BrokerID   uuid.UUID
	QuoteID    uuid.UUID
	Purpose    string
	Endpoint   string
	Request    []byte
	Response   []byte
	OccurredAt time.Time
}

// ExchangeArchiver keeps production exchanges for dispute resolution.
type ExchangeArchiver interface {
	ArchiveExchange(ctx context.Context, ex Exchange) error
}

// PushVerifier schedules a later check of a push whose outcome is unknown.
type PushVerifier interface {
	SchedulePushVerification(ctx context.Context, brokerID, quoteID uuid.UUID) error
}

// Deps groups the collaborators of the service.
type Deps struct {
	Store     Store
	Quoter    client.Quoter
	Profiles  ProfileReader
	Brokers   BrokerReader
	Catalog   CommissionCatalog
	Bus       events.Bus
	Archive   ExchangeArchiver
	Verifier  PushVerifier
	Schedule  split.Schedule
	PushLease time.Duration
	Log       *logger.Logger
}

// Service implements the quote lifecycle.
type Service struct {
	store     Store
	quoter    client.Quoter
	profiles  ProfileReader
	brokers   BrokerReader
	catalog   CommissionCatalog
	bus       events.Bus
	archive   ExchangeArchiver
	verifier  PushVerifier
	schedule  split.Schedule
	pushLease time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// New creates the quote lifecycle service. Archive and Verifier are optional.
func New(d Deps) *Service {
	schedule := d.Schedule
	if schedule == nil {
		schedule = split.DefaultSchedule()
	}
	lease := d.PushLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Service{
		store:     d.Store,
		quoter:    d.Quoter,
		profiles:  d.Profiles,
		brokers:   d.Brokers,
		catalog:   d.Catalog,
		bus:       d.Bus,
		archive:   d.Archive,
		verifier:  d.Verifier,
		schedule:  schedule,
		pushLease: lease,
		now:       func() time.Time { return time.Now().UTC() },
		log:       d.Log,
	}
}

// GenerateParams describes the offer a quote is created from.
type GenerateParams struct {
	BrokerID       uuid.UUID
	DossierID      uuid.UUID
	Actor          string
	InsurerID      string
	CommissionCode string
	CommissionRate decimal.Decimal
	Tariff         wire.Tariff
	Split          split.Split
}

// Generate persists a new quote in status generated.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*repository.Quote, error) {
	if strings.TrimSpace(p.Tariff.ID) == "" {
		return nil, apperr.Validation("a quote requires a provider tariff id")
	}
	if strings.TrimSpace(p.CommissionCode) == "" {
		return nil, apperr.Validation("a quote requires a commission code")
	}

	now := s.now()
	q := &repository.Quote{
		ID:                   uuid.New(),
		BrokerID:             p.BrokerID,
		DossierID:            p.DossierID,
		TariffID:             p.Tariff.ID,
		Insurer:              p.InsurerID,
		Product:              p.Tariff.Product,
		CommissionCode:       p.CommissionCode,
		CommissionRate:       p.CommissionRate,
		BrokerFeeMinor:       p.Split.BrokerFeeMinor,
		TotalCostMinor:       p.Tariff.TotalCostMinor,
		MonthlyMinor:         p.Tariff.MonthlyMinor,
		ApporteurPct:         p.Split.ApporteurPct,
		ApporteurAmountMinor: p.Split.ApporteurAmountMinor,
		PlatformPct:          p.Split.PlatformPct,
		PlatformAmountMinor:  p.Split.PlatformAmountMinor,
		BrokerNetMinor:       p.Split.BrokerNetMinor,
		Status:               repository.StatusGenerated,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Create(ctx, q); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.QuoteGenerated{
		BaseEvent:      events.NewBaseEvent(),
		QuoteRef:       ref(q, p.Actor),
		TariffID:       q.TariffID,
		Insurer:        q.Insurer,
		CommissionCode: q.CommissionCode,
		TotalCostMinor: q.TotalCostMinor,
		BrokerFeeMinor: q.BrokerFeeMinor,
	})
	return q, nil
}

// Get returns a quote owned by the broker.
func (s *Service) Get(ctx context.Context, brokerID, id uuid.UUID) (*repository.Quote, error) {
	return s.store.GetByID(ctx, id, brokerID)
}

func ref(q *repository.Quote, actor string) events.QuoteRef {
	return events.QuoteRef{QuoteID: q.ID, BrokerID: q.BrokerID, DossierID: q.DossierID, Actor: actor}
}

func illegal(q *repository.Quote, action string) error {
	return apperr.Wrap(apperr.KindConflict,
		fmt.Sprintf("quote cannot be %s while %s", action, q.Status), ErrIllegalTransition)
}

func alreadyLocked(message string) error {
	return apperr.Wrap(apperr.KindConflict, message, ErrAlreadyLocked)
}
