// Package events defines the quote lifecycle events and re-exports the
// platform bus so modules import a single package.
package events

import (
	"github.com/google/uuid"

	"loan_broker_backend/platform/events"
	"loan_broker_backend/platform/logger"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// InMemoryBus is the asynchronous in-process bus.
type InMemoryBus = events.InMemoryBus

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates the bus used by both binaries.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// Quote lifecycle event names.
const (
	QuoteGeneratedName = "quote.generated"
	QuoteSentName      = "quote.sent"
	QuoteReadName      = "quote.read"
	QuoteAcceptedName  = "quote.accepted"
	QuoteRefusedName   = "quote.refused"
	QuotePushedName    = "quote.pushed"
)

// QuoteNames lists every quote lifecycle event.
var QuoteNames = []string{
	QuoteGeneratedName,
	QuoteSentName,
	QuoteReadName,
	QuoteAcceptedName,
	QuoteRefusedName,
	QuotePushedName,
}

// QuoteRef identifies the quote an event is about.
type QuoteRef struct {
	QuoteID   uuid.UUID `json:"quoteId"`
	BrokerID  uuid.UUID `json:"brokerId"`
	DossierID uuid.UUID `json:"dossierId"`
	Actor     string    `json:"actor,omitempty"`
}

// Quote returns the reference itself so every quote event exposes it.
func (r QuoteRef) Quote() QuoteRef { return r }

// QuoteEvent is implemented by every quote lifecycle event.
type QuoteEvent interface {
	Event
	Quote() QuoteRef
}

// QuoteGenerated is published when a quote is created from a priced tariff.
type QuoteGenerated struct {
	BaseEvent
	QuoteRef
	TariffID       string `json:"tariffId"`
	Insurer        string `json:"insurer"`
	CommissionCode string `json:"commissionCode"`
	TotalCostMinor int64  `json:"totalCostMinor"`
	BrokerFeeMinor int64  `json:"brokerFeeMinor"`
}

func (e QuoteGenerated) EventName() string { return QuoteGeneratedName }

// QuoteSent is published when the quote reaches the client.
type QuoteSent struct {
	BaseEvent
	QuoteRef
}

func (e QuoteSent) EventName() string { return QuoteSentName }

// QuoteRead is published when the client opens the quote.
type QuoteRead struct {
	BaseEvent
	QuoteRef
}

func (e QuoteRead) EventName() string { return QuoteReadName }

// QuoteAccepted is published when the client accepts the quote.
type QuoteAccepted struct {
	BaseEvent
	QuoteRef
}

func (e QuoteAccepted) EventName() string { return QuoteAcceptedName }

// QuoteRefused is published when the client refuses the quote.
type QuoteRefused struct {
	BaseEvent
	QuoteRef
	Reason string `json:"reason"`
}

func (e QuoteRefused) EventName() string { return QuoteRefusedName }

// QuotePushed is published once the quote is locked in the provider's production ledger.
type QuotePushed struct {
	BaseEvent
	QuoteRef
	SimulationID string `json:"simulationId"`
	TariffID     string `json:"tariffId"`
}

func (e QuotePushed) EventName() string { return QuotePushedName }
