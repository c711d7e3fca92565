// Package dossiers provides the dossier profile module: the loan and client
// data every pricing call is built from.
package dossiers

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "loan_broker_backend/internal/http"
	"loan_broker_backend/internal/dossiers/handler"
	"loan_broker_backend/internal/dossiers/repository"
	"loan_broker_backend/platform/logger"
	"loan_broker_backend/platform/validator"
)

// Module represents the dossiers domain module
type Module struct {
	handler    *handler.Handler
	repository *repository.Repository
}

// NewModule creates a new dossiers module with all dependencies wired
func NewModule(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool, log)
	return &Module{
		handler:    handler.New(repo, val),
		repository: repo,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "dossiers"
}

// Repository exposes profile reads to the pricing modules
func (m *Module) Repository() *repository.Repository {
	return m.repository
}

// RegisterRoutes registers the module's routes
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/dossiers"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
