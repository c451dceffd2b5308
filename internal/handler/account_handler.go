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

type accountService interface {
	CreateStaff(ctx context.Context, actor access.Actor, req dto.CreateStaffRequest) (*models.Account, error)
	UpdatePermissions(ctx context.Context, actor access.Actor, staffID string, req dto.UpdatePermissionsRequest) (*models.Account, error)
	AuditTrail(ctx context.Context, actor access.Actor, filter models.AuditFilter) ([]models.AuditLog, error)
}

// AccountHandler exposes staff administration and the audit trail.
type AccountHandler struct {
	service accountService
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(svc accountService) *AccountHandler {
	return &AccountHandler{service: svc}
}

// CreateStaff godoc
// @Summary Provision a staff account
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body dto.CreateStaffRequest true "Staff account"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/staff [post]
func (h *AccountHandler) CreateStaff(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateStaffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid staff payload"))
		return
	}
	account, err := h.service.CreateStaff(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, account)
}

// UpdatePermissions godoc
// @Summary Replace a staff account's capabilities
// @Tags Admin
// @Accept json
// @Produce json
// @Param staffId path string true "Staff account ID"
// @Param payload body dto.UpdatePermissionsRequest true "Capabilities"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/staff/{staffId}/permissions [put]
func (h *AccountHandler) UpdatePermissions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UpdatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid permissions payload"))
		return
	}
	account, err := h.service.UpdatePermissions(c.Request.Context(), actor, c.Param("staffId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// AuditLogs godoc
// @Summary List audit entries
// @Tags Admin
// @Produce json
// @Param resource query string false "Resource filter"
// @Param resourceId query string false "Resource ID filter"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/audit-logs [get]
func (h *AccountHandler) AuditLogs(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter := models.AuditFilter{Resource: c.Query("resource"), ResourceID: c.Query("resourceId")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	logs, err := h.service.AuditTrail(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil, middleware.ExtractMeta(c))
}
