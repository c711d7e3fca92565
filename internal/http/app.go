// Package http holds the pieces shared by the router and the domain modules:
// the Module contract, the route context handed to modules and the App
// assembled by the composition root.
package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"loan_broker_backend/internal/events"
	"loan_broker_backend/platform/config"
	"loan_broker_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker is a dependency the readiness check pings.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// App holds the fully initialized application dependencies.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health maps a dependency name ("database", "redis") to its health check.
	// Every check must succeed for /api/health to report ok.
	Health   map[string]HealthChecker
	EventBus events.Bus
	Modules  []Module
}

// Module is a bounded context that mounts its own routes.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is what a module gets to register routes with.
// Broker-scoped endpoints go on Protected, which carries the JWT middleware.
type RouterContext struct {
	Engine         *gin.Engine
	V1             *gin.RouterGroup
	Protected      *gin.RouterGroup
	Config         config.JWTConfig
	AuthMiddleware gin.HandlerFunc
}
