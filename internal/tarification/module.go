// Package tarification provides the pricing domain module: provider pricing,
// commission optimization, fee split previews and quote generation.
package tarification

import (
	"loan_broker_backend/internal/brokers"
	apphttp "loan_broker_backend/internal/http"
	"loan_broker_backend/internal/tarification/catalog"
	"loan_broker_backend/internal/tarification/client"
	"loan_broker_backend/internal/tarification/handler"
	"loan_broker_backend/internal/tarification/optimizer"
	"loan_broker_backend/internal/tarification/service"
	"loan_broker_backend/platform/logger"
	"loan_broker_backend/platform/validator"
)

// Module represents the tarification domain module
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates a new tarification module with all dependencies wired
func NewModule(
	quoter client.Quoter,
	cat *catalog.Catalog,
	policy optimizer.Policy,
	profiles service.ProfileReader,
	brokerRepo *brokers.Repository,
	quotes service.QuoteGenerator,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	opt := optimizer.New(quoter, cat, policy, log)
	svc := service.New(quoter, opt, cat, profiles, brokerRepo, quotes, log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "tarification"
}

// Service returns the service layer for external use
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes registers the module's routes
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
