package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

type profileService interface {
	Get(ctx context.Context, actor access.Actor, accountID string) (*models.Account, error)
	UpdateProfileSection(ctx context.Context, actor access.Actor, accountID, section string, req dto.UpdateProfileSectionRequest) (*models.Account, error)
	LockProfile(ctx context.Context, actor access.Actor, accountID string, req dto.LockProfileRequest) (*models.Account, error)
	UnlockProfile(ctx context.Context, actor access.Actor, accountID string) (*models.Account, error)
}

// ProfileHandler exposes the candidate profile.
type ProfileHandler struct {
	service profileService
}

// NewProfileHandler constructs the handler.
func NewProfileHandler(svc profileService) *ProfileHandler {
	return &ProfileHandler{service: svc}
}

// Get godoc
// @Summary Get an account with its applications
// @Tags Profile
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /accounts/{accountId} [get]
func (h *ProfileHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	account, err := h.service.Get(c.Request.Context(), actor, targetAccount(c, actor))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// UpdateSection godoc
// @Summary Replace one profile section
// @Tags Profile
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param section path string true "Section name"
// @Param payload body dto.UpdateProfileSectionRequest true "Section data"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /accounts/{accountId}/profile/{section} [put]
func (h *ProfileHandler) UpdateSection(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UpdateProfileSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	account, err := h.service.UpdateProfileSection(c.Request.Context(), actor, targetAccount(c, actor), c.Param("section"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// Lock godoc
// @Summary Lock the profile
// @Tags Profile
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param payload body dto.LockProfileRequest true "Declaration"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /accounts/{accountId}/profile/lock [post]
func (h *ProfileHandler) Lock(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.LockProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid lock payload"))
		return
	}
	account, err := h.service.LockProfile(c.Request.Context(), actor, targetAccount(c, actor), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// Unlock godoc
// @Summary Unlock the profile
// @Tags Profile
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Success 200 {object} response.Envelope
// @Router /accounts/{accountId}/profile/unlock [post]
func (h *ProfileHandler) Unlock(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	account, err := h.service.UnlockProfile(c.Request.Context(), actor, targetAccount(c, actor))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}
