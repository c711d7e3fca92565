package transport

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loan_broker_backend/internal/quotes/repository"
)

// ── Requests ──────────────────────────────────────────────────────────────────

// RefuseQuoteRequest is the request body for refusing a quote
type RefuseQuoteRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RepriceQuoteRequest is the request body for changing the commercial terms of a generated quote
type RepriceQuoteRequest struct {
	CommissionCode string `json:"commissionCode" validate:"omitempty,max=32"`
	BrokerFeeMinor *int64 `json:"brokerFeeMinor" validate:"omitempty,min=0"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

// SplitResponse is the fee split frozen on a quote
type SplitResponse struct {
	BrokerFeeMinor       int64           `json:"brokerFeeMinor"`
	ApporteurPct         decimal.Decimal `json:"apporteurPct"`
	ApporteurAmountMinor int64           `json:"apporteurAmountMinor"`
	PlatformPct          decimal.Decimal `json:"platformPct"`
	PlatformAmountMinor  int64           `json:"platformAmountMinor"`
	BrokerNetMinor       int64           `json:"brokerNetMinor"`
}

// QuoteResponse is the API representation of a quote
type QuoteResponse struct {
	ID             uuid.UUID       `json:"id"`
	DossierID      uuid.UUID       `json:"dossierId"`
	TariffID       string          `json:"tariffId"`
	Insurer        string          `json:"insurer"`
	Product        string          `json:"product"`
	CommissionCode string          `json:"commissionCode"`
	CommissionRate decimal.Decimal `json:"commissionRate"`
	TotalCostMinor int64           `json:"totalCostMinor"`
	MonthlyMinor   int64           `json:"monthlyMinor"`
	Split          SplitResponse   `json:"split"`
	Status         string          `json:"status"`
	Locked         bool            `json:"locked"`
	PushVerifying  bool            `json:"pushVerifying"`
	SimulationID   *string         `json:"simulationId,omitempty"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
	ReadAt         *time.Time      `json:"readAt,omitempty"`
	AcceptedAt     *time.Time      `json:"acceptedAt,omitempty"`
	AcceptedBy     *string         `json:"acceptedBy,omitempty"`
	RefusedAt      *time.Time      `json:"refusedAt,omitempty"`
	RefusedBy      *string         `json:"refusedBy,omitempty"`
	RefusalReason  *string         `json:"refusalReason,omitempty"`
	PushedAt       *time.Time      `json:"pushedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ToQuoteResponse maps the stored quote to its API shape.
func ToQuoteResponse(q *repository.Quote) QuoteResponse {
	return QuoteResponse{
		ID:             q.ID,
		DossierID:      q.DossierID,
		TariffID:       q.TariffID,
		Insurer:        q.Insurer,
		Product:        q.Product,
		CommissionCode: q.CommissionCode,
		CommissionRate: q.CommissionRate,
		TotalCostMinor: q.TotalCostMinor,
		MonthlyMinor:   q.MonthlyMinor,
		Split: SplitResponse{
			BrokerFeeMinor:       q.BrokerFeeMinor,
			ApporteurPct:         q.ApporteurPct,
			ApporteurAmountMinor: q.ApporteurAmountMinor,
			PlatformPct:          q.PlatformPct,
			PlatformAmountMinor:  q.PlatformAmountMinor,
			BrokerNetMinor:       q.BrokerNetMinor,
		},
		Status:        string(q.Status),
		Locked:        q.Locked,
		PushVerifying: q.PushUnverified,
		SimulationID:  q.SimulationID,
		SentAt:        q.SentAt,
		ReadAt:        q.ReadAt,
		AcceptedAt:    q.AcceptedAt,
		AcceptedBy:    q.AcceptedBy,
		RefusedAt:     q.RefusedAt,
		RefusedBy:     q.RefusedBy,
		RefusalReason: q.RefusalReason,
		PushedAt:      q.PushedAt,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
}
