package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/middleware"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

type requestService interface {
	List(ctx context.Context, actor access.Actor, query dto.RequestQuery) ([]models.RequestRow, *models.Pagination, error)
	Export(ctx context.Context, actor access.Actor, query dto.RequestQuery, w io.Writer) error
	Summary(ctx context.Context, actor access.Actor) (*models.DashboardSummary, error)
}

// RequestHandler exposes the staff review queue.
type RequestHandler struct {
	service requestService
	now     func() time.Time
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(svc requestService) *RequestHandler {
	return &RequestHandler{service: svc, now: time.Now}
}

// List godoc
// @Summary List applications awaiting review
// @Tags Review
// @Produce json
// @Param status query string false "Course status"
// @Param search query string false "Name, profile id or application id"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, err := requestQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	rows, pagination, err := h.service.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export the review queue as CSV
// @Tags Review
// @Produce text/csv
// @Param status query string false "Course status"
// @Param search query string false "Name, profile id or application id"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /admin/requests/export [get]
func (h *RequestHandler) Export(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	query, err := requestQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(c.Request.Context(), actor, query, &buf); err != nil {
		response.Error(c, err)
		return
	}
	name := fmt.Sprintf("requests-%s.csv", h.now().UTC().Format("20060102-150405"))
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Summary godoc
// @Summary Admin dashboard counters
// @Tags Review
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/dashboard [get]
func (h *RequestHandler) Summary(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	summary, err := h.service.Summary(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

func requestQuery(c *gin.Context) (dto.RequestQuery, error) {
	query := dto.RequestQuery{Status: c.Query("status"), Search: c.Query("search")}
	for key, dst := range map[string]*int{"page": &query.Page, "pageSize": &query.PageSize} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return query, appErrors.Clone(appErrors.ErrValidation, key+" must be a non-negative integer")
		}
		*dst = n
	}
	return query, nil
}
