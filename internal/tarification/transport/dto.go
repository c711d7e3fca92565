package transport

import (
	"github.com/shopspring/decimal"

	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/wire"
)

// ── Requests ──────────────────────────────────────────────────────────────────

// ApporteurRequest describes the business introducer on a deal
type ApporteurRequest struct {
	Present bool             `json:"present"`
	Pct     *decimal.Decimal `json:"pct"`
}

// OptimizeRequest narrows the commission sweep. Omitted candidates try every catalog code.
type OptimizeRequest struct {
	Candidates map[string][]string `json:"candidates"`
}

// SplitPreviewRequest is the request body for a fee split preview
type SplitPreviewRequest struct {
	BrokerFeeMinor int64            `json:"brokerFeeMinor" validate:"min=0"`
	Apporteur      ApporteurRequest `json:"apporteur"`
}

// GenerateQuoteRequest selects the offer a quote is created from
type GenerateQuoteRequest struct {
	TariffID       string           `json:"tariffId" validate:"required,max=64"`
	CommissionCode string           `json:"commissionCode" validate:"required,max=32"`
	BrokerFeeMinor *int64           `json:"brokerFeeMinor" validate:"omitempty,min=0"`
	Apporteur      ApporteurRequest `json:"apporteur"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

// PricingResponse is a baseline pricing of a dossier
type PricingResponse struct {
	SimulationID string          `json:"simulationId,omitempty"`
	Tariffs      []wire.Tariff   `json:"tariffs"`
	Documents    []wire.Document `json:"documents,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
}

// CommissionCodesResponse lists catalog insurers and their tiers
type CommissionCodesResponse struct {
	Insurers []catalog.Insurer `json:"insurers"`
}
