package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

// IdempotencyHeader lets clients retry ApplyForCourse without filing twice.
const IdempotencyHeader = "Idempotency-Key"

type lifecycleService interface {
	ApplyForCourse(ctx context.Context, actor access.Actor, accountID string, req dto.ApplyCourseRequest) (*models.AppliedCourse, error)
	CreatePaymentOrder(ctx context.Context, actor access.Actor, accountID, courseID string) (*dto.PaymentOrderResponse, error)
	RecordPayment(ctx context.Context, actor access.Actor, accountID, courseID string, req dto.RecordPaymentRequest) (*models.AppliedCourse, error)
	BookAppointment(ctx context.Context, actor access.Actor, accountID, courseID string, req dto.BookAppointmentRequest) (*models.AppliedCourse, error)
	UploadDocument(ctx context.Context, actor access.Actor, accountID, courseID string, upload dto.UploadInput) (*models.Document, error)
	UpdateCourseStatus(ctx context.Context, actor access.Actor, accountID, courseID string, req dto.UpdateCourseStatusRequest) (*models.AppliedCourse, error)
	UpdateDocumentStatus(ctx context.Context, actor access.Actor, accountID, courseID, documentID string, req dto.UpdateDocumentStatusRequest) (*models.Document, error)
	DeleteApplication(ctx context.Context, actor access.Actor, accountID, courseID string) error
	DocumentLink(ctx context.Context, actor access.Actor, accountID, courseID, documentID string) (*dto.DocumentLinkResponse, error)
	OpenDocument(ctx context.Context, token string) (io.ReadCloser, string, error)
}

// LifecycleHandler exposes the application and document lifecycle.
type LifecycleHandler struct {
	service lifecycleService
}

// NewLifecycleHandler constructs the handler.
func NewLifecycleHandler(svc lifecycleService) *LifecycleHandler {
	return &LifecycleHandler{service: svc}
}

// Apply godoc
// @Summary Apply for a course
// @Description Files a new Pending application on the account
// @Tags Applications
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param Idempotency-Key header string false "Retry key"
// @Param payload body dto.ApplyCourseRequest true "Course selection"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /accounts/{accountId}/courses [post]
func (h *LifecycleHandler) Apply(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.ApplyCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid application payload"))
		return
	}
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	course, err := h.service.ApplyForCourse(c.Request.Context(), actor, targetAccount(c, actor), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// CreatePaymentOrder godoc
// @Summary Open a payment order
// @Tags Payments
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param courseId path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/payment-order [post]
func (h *LifecycleHandler) CreatePaymentOrder(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	order, err := h.service.CreatePaymentOrder(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, order)
}

// RecordPayment godoc
// @Summary Record a completed payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param courseId path string true "Course ID"
// @Param payload body dto.RecordPaymentRequest true "Gateway reference"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/payment [post]
func (h *LifecycleHandler) RecordPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}
	course, err := h.service.RecordPayment(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// BookAppointment godoc
// @Summary Book a verification appointment
// @Description Accepts JSON {"slot": "..."} or multipart with a slot field and one file per document label
// @Tags Applications
// @Accept json,mpfd
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param courseId path string true "Course ID"
// @Param slot formData string false "Slot key YYYY-MM-DD/<label>"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 402 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/appointment [post]
func (h *LifecycleHandler) BookAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req dto.BookAppointmentRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid appointment form"))
			return
		}
		req.Slot = c.PostForm("slot")
		uploads, closers, err := formUploads(form)
		defer closeAll(closers)
		if err != nil {
			response.Error(c, err)
			return
		}
		req.Documents = uploads
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid appointment payload"))
		return
	}

	course, err := h.service.BookAppointment(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// UploadDocument godoc
// @Summary Upload or replace a document
// @Tags Documents
// @Accept mpfd
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param courseId path string true "Course ID"
// @Param label formData string true "Document label"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/documents [post]
func (h *LifecycleHandler) UploadDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	label := strings.TrimSpace(c.PostForm("label"))
	if label == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "label is required"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	upload, src, err := openUpload(label, fileHeader)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer src.Close()

	doc, err := h.service.UploadDocument(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"), upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// UpdateCourseStatus godoc
// @Summary Review an application
// @Tags Review
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param courseId path string true "Course ID"
// @Param payload body dto.UpdateCourseStatusRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/status [patch]
func (h *LifecycleHandler) UpdateCourseStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UpdateCourseStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	course, err := h.service.UpdateCourseStatus(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// UpdateDocumentStatus godoc
// @Summary Review one document
// @Tags Review
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param courseId path string true "Course ID"
// @Param documentId path string true "Document ID"
// @Param payload body dto.UpdateDocumentStatusRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/documents/{documentId}/status [patch]
func (h *LifecycleHandler) UpdateDocumentStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.UpdateDocumentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	doc, err := h.service.UpdateDocumentStatus(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"), c.Param("documentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// DeleteApplication godoc
// @Summary Delete an application
// @Tags Review
// @Param accountId path string true "Account ID"
// @Param courseId path string true "Course ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId} [delete]
func (h *LifecycleHandler) DeleteApplication(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.DeleteApplication(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DocumentLink godoc
// @Summary Signed download link for a document
// @Tags Documents
// @Produce json
// @Param accountId path string true "Account ID or me"
// @Param courseId path string true "Course ID"
// @Param documentId path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /accounts/{accountId}/courses/{courseId}/documents/{documentId}/link [get]
func (h *LifecycleHandler) DocumentLink(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	link, err := h.service.DocumentLink(c.Request.Context(), actor, targetAccount(c, actor), c.Param("courseId"), c.Param("documentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a document through a signed token
// @Tags Documents
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /files/{token} [get]
func (h *LifecycleHandler) Download(c *gin.Context) {
	rc, name, err := h.service.OpenDocument(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}

// formUploads turns every file part of the form into an upload labelled by its field name.
func formUploads(form *multipart.Form) ([]dto.UploadInput, []io.Closer, error) {
	labels := make([]string, 0, len(form.File))
	for label := range form.File {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var closers []io.Closer
	uploads := make([]dto.UploadInput, 0, len(labels))
	for _, label := range labels {
		headers := form.File[label]
		if len(headers) != 1 {
			return nil, closers, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("exactly one file is allowed for %s", label))
		}
		upload, src, err := openUpload(label, headers[0])
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, src)
		uploads = append(uploads, upload)
	}
	return uploads, closers, nil
}

func openUpload(label string, fileHeader *multipart.FileHeader) (dto.UploadInput, multipart.File, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return dto.UploadInput{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return dto.UploadInput{
		Label:       label,
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        src,
	}, src, nil
}

func closeAll(closers []io.Closer) {
	for _, cl := range closers {
		_ = cl.Close()
	}
}
