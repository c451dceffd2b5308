package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/middleware"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

type slotService interface {
	Publish(ctx context.Context, actor access.Actor, req dto.SlotRequest) (*models.AppointmentSlot, error)
	Unpublish(ctx context.Context, actor access.Actor, req dto.SlotRequest) (*models.AppointmentSlot, error)
	List(ctx context.Context, actor access.Actor, query dto.SlotQuery) ([]models.AppointmentSlot, error)
}

// SlotHandler exposes the appointment slot catalogue.
type SlotHandler struct {
	service slotService
}

// NewSlotHandler constructs the handler.
func NewSlotHandler(svc slotService) *SlotHandler {
	return &SlotHandler{service: svc}
}

// List godoc
// @Summary List appointment slots
// @Tags Slots
// @Produce json
// @Param from query string false "Earliest date YYYY-MM-DD"
// @Param published query bool false "Only published slots"
// @Success 200 {object} response.Envelope
// @Router /slots [get]
func (h *SlotHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query := dto.SlotQuery{From: c.Query("from")}
	if raw := c.Query("published"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "published must be a boolean"))
			return
		}
		query.PublishedOnly = published
	}
	slots, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil, middleware.ExtractMeta(c))
}

// Publish godoc
// @Summary Publish a slot
// @Tags Slots
// @Accept json
// @Produce json
// @Param payload body dto.SlotRequest true "Slot"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/slots/publish [post]
func (h *SlotHandler) Publish(c *gin.Context) {
	h.set(c, h.service.Publish)
}

// Unpublish godoc
// @Summary Withdraw a slot
// @Tags Slots
// @Accept json
// @Produce json
// @Param payload body dto.SlotRequest true "Slot"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/slots/unpublish [post]
func (h *SlotHandler) Unpublish(c *gin.Context) {
	h.set(c, h.service.Unpublish)
}

func (h *SlotHandler) set(c *gin.Context, apply func(context.Context, access.Actor, dto.SlotRequest) (*models.AppointmentSlot, error)) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.SlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	slot, err := apply(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slot, nil)
}
