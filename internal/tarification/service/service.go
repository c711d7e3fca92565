// Package service exposes pricing, commission optimization and quote
// generation for a broker's dossier.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loan_broker_backend/internal/brokers"
	quoterepo "loan_broker_backend/internal/quotes/repository"
	quotesvc "loan_broker_backend/internal/quotes/service"
	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/optimizer"
	"loan_broker_backend/internal/tarification/split"
	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/logger"
)

// ProfileReader loads the loan/client profile of a dossier.
type ProfileReader interface {
	GetProfile(ctx context.Context, brokerID, dossierID uuid.UUID) (wire.Profile, error)
}

// BrokerReader loads the broker's provider configuration.
type BrokerReader interface {
	GetPricingConfig(ctx context.Context, brokerID uuid.UUID) (brokers.PricingConfig, error)
}

// Optimizer runs a commission sweep.
type Optimizer interface {
	Optimize(ctx context.Context, req optimizer.Request) (*optimizer.Result, error)
}

// QuoteGenerator persists a quote for a chosen offer.
type QuoteGenerator interface {
	Generate(ctx context.Context, p quotesvc.GenerateParams) (*quoterepo.Quote, error)
}

// Service orchestrates the pricing use cases.
type Service struct {
	quoter    client.Quoter
	optimizer Optimizer
	catalog   *catalog.Catalog
	profiles  ProfileReader
	brokers   BrokerReader
	quotes    QuoteGenerator
	schedule  split.Schedule
	log       *logger.Logger
}

// New creates the tarification service.
func New(quoter client.Quoter, opt Optimizer, cat *catalog.Catalog, profiles ProfileReader, brokerReader BrokerReader, quotes QuoteGenerator, log *logger.Logger) *Service {
	return &Service{
		quoter:    quoter,
		optimizer: opt,
		catalog:   cat,
		profiles:  profiles,
		brokers:   brokerReader,
		quotes:    quotes,
		schedule:  split.DefaultSchedule(),
		log:       log,
	}
}

// PriceResult is a baseline pricing of a dossier.
type PriceResult struct {
	SimulationID string
	Tariffs      []wire.Tariff
	Documents    []wire.Document
	Errors       []string
}

// Price runs a staging pricing with the broker's default terms. An empty
// tariff list is a valid answer.
func (s *Service) Price(ctx context.Context, brokerID, dossierID uuid.UUID) (*PriceResult, error) {
	profile, cfg, err := s.pricingContext(ctx, brokerID, dossierID)
	if err != nil {
		return nil, err
	}

	fee := cfg.DefaultBrokerFeeMinor
	result, err := s.quoter.Quote(ctx, profile, cfg.Credentials(), client.Options{
		CommissionCode: cfg.DefaultCommissionCode,
		BrokerFeeMinor: &fee,
	})
	if err != nil {
		return nil, client.AsAppError(err)
	}

	out := &PriceResult{Tariffs: []wire.Tariff{}}
	if !client.NoUsableTariffs(result) {
		out.Tariffs = result.Tariffs
	}
	if result.Response != nil {
		out.SimulationID = result.SimulationID
		out.Documents = result.Documents
		out.Errors = result.Errors
	}
	return out, nil
}

// Optimize sweeps commission codes for the insurers offering the dossier.
// A nil candidates map tries every catalog code.
func (s *Service) Optimize(ctx context.Context, brokerID, dossierID uuid.UUID, candidates map[string][]string) (*optimizer.Result, error) {
	profile, cfg, err := s.pricingContext(ctx, brokerID, dossierID)
	if err != nil {
		return nil, err
	}

	fee := cfg.DefaultBrokerFeeMinor
	result, err := s.optimizer.Optimize(ctx, optimizer.Request{
		Profile:               profile,
		Credentials:           cfg.Credentials(),
		DefaultCommissionCode: cfg.DefaultCommissionCode,
		BrokerFeeMinor:        &fee,
		Candidates:            candidates,
	})
	if err != nil {
		return nil, client.AsAppError(err)
	}
	return result, nil
}

// Apporteur describes the business introducer on a deal.
type Apporteur struct {
	Present bool
	// Pct overrides the broker's default share when set.
	Pct *decimal.Decimal
}

// SplitRequest asks for a fee split preview.
type SplitRequest struct {
	BrokerFeeMinor int64
	Apporteur      Apporteur
}

// PreviewSplit computes the fee split under the broker's plan.
func (s *Service) PreviewSplit(ctx context.Context, brokerID uuid.UUID, req SplitRequest) (split.Split, error) {
	cfg, err := s.brokers.GetPricingConfig(ctx, brokerID)
	if err != nil {
		return split.Split{}, err
	}
	return s.split(cfg, req.BrokerFeeMinor, req.Apporteur)
}

// GenerateRequest selects the offer a quote is created from.
type GenerateRequest struct {
	Actor          string
	TariffID       string
	CommissionCode string
	BrokerFeeMinor *int64
	Apporteur      Apporteur
}

// GenerateQuote re-prices the chosen tariff on staging and persists a quote
// from the provider's figures. Client supplied totals are never trusted.
func (s *Service) GenerateQuote(ctx context.Context, brokerID, dossierID uuid.UUID, req GenerateRequest) (*quoterepo.Quote, error) {
	tariffID := strings.TrimSpace(req.TariffID)
	if tariffID == "" {
		return nil, apperr.Validation("tariff id is required")
	}
	insurerID, ok := s.catalog.InsurerForCode(req.CommissionCode)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown commission code %s", req.CommissionCode))
	}
	code, _ := s.catalog.Lookup(req.CommissionCode)

	profile, cfg, err := s.pricingContext(ctx, brokerID, dossierID)
	if err != nil {
		return nil, err
	}
	fee := cfg.DefaultBrokerFeeMinor
	if req.BrokerFeeMinor != nil {
		fee = *req.BrokerFeeMinor
	}

	result, err := s.quoter.Quote(ctx, profile, cfg.Credentials(), client.Options{
		CommissionCode: code.Code,
		TargetTariffID: tariffID,
		BrokerFeeMinor: &fee,
	})
	if err != nil {
		return nil, client.AsAppError(err)
	}
	tariff, ok := result.FindTariff(tariffID)
	if !ok || !tariff.Priced() {
		return nil, apperr.NotFound(fmt.Sprintf("tariff %s is not offered for this dossier", tariffID))
	}
	if owner, ok := s.catalog.ResolveInsurer(tariff.Insurer); !ok || owner != insurerID {
		return nil, apperr.Validation(fmt.Sprintf("commission code %s does not belong to insurer %s", code.Code, tariff.Insurer))
	}

	shares, err := s.split(cfg, fee, req.Apporteur)
	if err != nil {
		return nil, err
	}

	return s.quotes.Generate(ctx, quotesvc.GenerateParams{
		BrokerID:       brokerID,
		DossierID:      dossierID,
		Actor:          req.Actor,
		InsurerID:      insurerID,
		CommissionCode: code.Code,
		CommissionRate: code.Rate,
		Tariff:         tariff,
		Split:          shares,
	})
}

// CommissionCodes lists the catalog, optionally narrowed to one insurer.
func (s *Service) CommissionCodes(insurer string) ([]catalog.Insurer, error) {
	if strings.TrimSpace(insurer) == "" {
		return s.catalog.Insurers(), nil
	}
	id, ok := s.catalog.ResolveInsurer(insurer)
	if !ok {
		return nil, apperr.NotFound("unknown insurer " + insurer)
	}
	for _, ins := range s.catalog.Insurers() {
		if ins.ID == id {
			return []catalog.Insurer{ins}, nil
		}
	}
	return nil, apperr.NotFound("unknown insurer " + insurer)
}

func (s *Service) split(cfg brokers.PricingConfig, fee int64, apporteur Apporteur) (split.Split, error) {
	return split.Calculate(split.Input{
		BrokerFeeMinor:      fee,
		Plan:                cfg.Plan,
		ApporteurPresent:    apporteur.Present,
		DefaultApporteurPct: cfg.DefaultApporteurPct,
		CustomApporteurPct:  apporteur.Pct,
	}, s.schedule)
}

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
