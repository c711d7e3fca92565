// Package quotes provides the quote lifecycle domain module.
package quotes

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"loan_broker_backend/internal/events"
	apphttp "loan_broker_backend/internal/http"
	"loan_broker_backend/internal/quotes/handler"
	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/quotes/service"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/platform/logger"
	"loan_broker_backend/platform/validator"
)

// Dependencies are the collaborators the quotes module borrows from other modules.
type Dependencies struct {
	Quoter    client.Quoter
	Profiles  service.ProfileReader
	Brokers   service.BrokerReader
	Catalog   service.CommissionCatalog
	Archive   service.ExchangeArchiver
	Verifier  service.PushVerifier
	PushLease time.Duration
}

// Module represents the quotes domain module
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates a new quotes module with all dependencies wired
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, deps Dependencies, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool, log)
	svc := service.New(service.Deps{
		Store:     repo,
		Quoter:    deps.Quoter,
		Profiles:  deps.Profiles,
		Brokers:   deps.Brokers,
		Catalog:   deps.Catalog,
		Bus:       eventBus,
		Archive:   deps.Archive,
		Verifier:  deps.Verifier,
		PushLease: deps.PushLease,
		Log:       log,
	})

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "quotes"
}

// Service returns the service layer for external use
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes registers the module's routes
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/quotes"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
