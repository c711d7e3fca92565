package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	quotetransport "loan_broker_backend/internal/quotes/transport"
	"loan_broker_backend/internal/tarification/service"
	"loan_broker_backend/internal/tarification/transport"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/httpkit"
	"loan_broker_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for pricing and quote generation
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new tarification handler
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the pricing routes on the authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/commission-codes", h.CommissionCodes)
	rg.POST("/pricing/split", h.PreviewSplit)
	rg.POST("/dossiers/:id/pricing", h.Price)
	rg.POST("/dossiers/:id/optimization", h.Optimize)
	rg.POST("/dossiers/:id/quotes", h.GenerateQuote)
}

// CommissionCodes handles GET /api/v1/commission-codes
func (h *Handler) CommissionCodes(c *gin.Context) {
	insurers, err := h.svc.CommissionCodes(c.Query("insurer"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.CommissionCodesResponse{Insurers: insurers})
}

// Price handles POST /api/v1/dossiers/:id/pricing
func (h *Handler) Price(c *gin.Context) {
	dossierID, brokerID, ok := dossierAndBroker(c)
	if !ok {
		return
	}

	result, err := h.svc.Price(c.Request.Context(), brokerID, dossierID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.PricingResponse{
		SimulationID: result.SimulationID,
		Tariffs:      result.Tariffs,
		Documents:    result.Documents,
		Errors:       result.Errors,
	})
}

// Optimize handles POST /api/v1/dossiers/:id/optimization
func (h *Handler) Optimize(c *gin.Context) {
	dossierID, brokerID, ok := dossierAndBroker(c)
	if !ok {
		return
	}

	var req transport.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}

	result, err := h.svc.Optimize(c.Request.Context(), brokerID, dossierID, req.Candidates)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// PreviewSplit handles POST /api/v1/pricing/split
func (h *Handler) PreviewSplit(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	var req transport.SplitPreviewRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.PreviewSplit(c.Request.Context(), identity.BrokerID(), service.SplitRequest{
		BrokerFeeMinor: req.BrokerFeeMinor,
		Apporteur:      service.Apporteur{Present: req.Apporteur.Present, Pct: req.Apporteur.Pct},
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// GenerateQuote handles POST /api/v1/dossiers/:id/quotes
func (h *Handler) GenerateQuote(c *gin.Context) {
	dossierID, brokerID, ok := dossierAndBroker(c)
	if !ok {
		return
	}

	var req transport.GenerateQuoteRequest
	if !h.bind(c, &req) {
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	quote, err := h.svc.GenerateQuote(c.Request.Context(), brokerID, dossierID, service.GenerateRequest{
		Actor:          identity.UserID().String(),
		TariffID:       req.TariffID,
		CommissionCode: req.CommissionCode,
		BrokerFeeMinor: req.BrokerFeeMinor,
		Apporteur:      service.Apporteur{Present: req.Apporteur.Present, Pct: req.Apporteur.Pct},
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, quotetransport.ToQuoteResponse(quote))
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

func dossierAndBroker(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	dossierID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return uuid.UUID{}, uuid.UUID{}, false
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return dossierID, identity.BrokerID(), true
}
