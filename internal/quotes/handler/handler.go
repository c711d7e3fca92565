package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"loan_broker_backend/internal/quotes/repository"
	"loan_broker_backend/internal/quotes/service"
	"loan_broker_backend/internal/quotes/transport"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/httpkit"
	"loan_broker_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for quotes
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new quotes handler
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the quote routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/send", h.Send)
	rg.POST("/:id/read", h.Read)
	rg.POST("/:id/accept", h.Accept)
	rg.POST("/:id/refuse", h.Refuse)
	rg.POST("/:id/push", h.Push)
	rg.PATCH("/:id/pricing", h.Reprice)
}

type transitionFunc func(ctx context.Context, brokerID, id uuid.UUID, actor string) (*repository.Quote, error)

// GetByID handles GET /api/v1/quotes/:id
func (h *Handler) GetByID(c *gin.Context) {
	id, identity, ok := quoteAndIdentity(c)
	if !ok {
		return
	}

	quote, err := h.svc.Get(c.Request.Context(), identity.BrokerID(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToQuoteResponse(quote))
}

// Send handles POST /api/v1/quotes/:id/send
func (h *Handler) Send(c *gin.Context) { h.transition(c, h.svc.MarkSent) }

// Read handles POST /api/v1/quotes/:id/read
func (h *Handler) Read(c *gin.Context) { h.transition(c, h.svc.MarkRead) }

// Accept handles POST /api/v1/quotes/:id/accept
func (h *Handler) Accept(c *gin.Context) { h.transition(c, h.svc.Accept) }

// Push handles POST /api/v1/quotes/:id/push
func (h *Handler) Push(c *gin.Context) { h.transition(c, h.svc.PushToProduction) }

// Refuse handles POST /api/v1/quotes/:id/refuse
func (h *Handler) Refuse(c *gin.Context) {
	id, identity, ok := quoteAndIdentity(c)
	if !ok {
		return
	}

	var req transport.RefuseQuoteRequest
	if !h.bind(c, &req) {
		return
	}

	quote, err := h.svc.Refuse(c.Request.Context(), identity.BrokerID(), id, identity.UserID().String(), req.Reason)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToQuoteResponse(quote))
}

// Reprice handles PATCH /api/v1/quotes/:id/pricing
func (h *Handler) Reprice(c *gin.Context) {
	id, identity, ok := quoteAndIdentity(c)
	if !ok {
		return
	}

	var req transport.RepriceQuoteRequest
	if !h.bind(c, &req) {
		return
	}

	quote, err := h.svc.Reprice(c.Request.Context(), identity.BrokerID(), id, service.RepriceParams{
		Actor:          identity.UserID().String(),
		CommissionCode: req.CommissionCode,
		BrokerFeeMinor: req.BrokerFeeMinor,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToQuoteResponse(quote))
}

func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	id, identity, ok := quoteAndIdentity(c)
	if !ok {
		return
	}

	quote, err := fn(c.Request.Context(), identity.BrokerID(), id, identity.UserID().String())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.ToQuoteResponse(quote))
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(validator.FieldErrors(err)))
		return false
	}
	return true
}

func quoteAndIdentity(c *gin.Context) (uuid.UUID, httpkit.Identity, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return uuid.UUID{}, nil, false
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.UUID{}, nil, false
	}
	return id, identity, true
}
