package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/apperr"
	"loan_broker_backend/platform/httpkit"
	"loan_broker_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// ProfileStore reads and writes dossier profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, brokerID, dossierID uuid.UUID) (wire.Profile, error)
	SaveProfile(ctx context.Context, brokerID, dossierID uuid.UUID, profile wire.Profile) error
}

// Handler handles HTTP requests for dossier profiles
type Handler struct {
	store ProfileStore
	val   *validator.Validator
}

// New creates a new dossiers handler
func New(store ProfileStore, val *validator.Validator) *Handler {
	return &Handler{store: store, val: val}
}

// RegisterRoutes registers the dossier routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/profile", h.GetProfile)
	rg.PUT("/:id/profile", h.PutProfile)
}

// GetProfile handles GET /api/v1/dossiers/:id/profile
func (h *Handler) GetProfile(c *gin.Context) {
	id, brokerID, ok := dossierAndBroker(c)
	if !ok {
		return
	}

	profile, err := h.store.GetProfile(c.Request.Context(), brokerID, id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, profile)
}

// PutProfile handles PUT /api/v1/dossiers/:id/profile
func (h *Handler) PutProfile(c *gin.Context) {
	id, brokerID, ok := dossierAndBroker(c)
	if !ok {
		return
	}

	var profile wire.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return
	}
	if err := h.val.Struct(profile); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(validator.FieldErrors(err)))
		return
	}
	if httpkit.HandleError(c, profile.CheckInvariants()) {
		return
	}

	if httpkit.HandleError(c, h.store.SaveProfile(c.Request.Context(), brokerID, id, profile)) {
		return
	}

	httpkit.OK(c, profile)
}

func dossierAndBroker(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(msgInvalidRequest))
		return uuid.UUID{}, uuid.UUID{}, false
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return id, identity.BrokerID(), true
}
