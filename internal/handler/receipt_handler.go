package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/service"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

type receiptService interface {
	Render(ctx context.Context, actor access.Actor, accountID, courseID string) (*service.Receipt, error)
}

// ReceiptHandler serves payment receipts.
type ReceiptHandler struct {
	service receiptService
}

// NewReceiptHandler constructs the handler.
func NewReceiptHandler(svc receiptService) *ReceiptHandler {
	return &ReceiptHandler{service: svc}
}

// Download godoc
// @Summary Download the payment receipt
// @Tags Payments
// @Produce application/pdf
// @Param accountId path string true "Account ID or me"
// @Param courseId path string true "Course ID"
// @Success 200 {file} file
// @Failure 402 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/receipt [get]
func (h *ReceiptHandler) Download(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	receipt, err := h.service.Render(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", receipt.FileName))
	c.Data(http.StatusOK, "application/pdf", receipt.Content)
}
