package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/middleware"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

type lifecycleServiceMock struct {
	err error

	lastActor     access.Actor
	lastAccountID string
	lastCourseID  string
	lastDocID     string
	applyReq      dto.ApplyCourseRequest
	bookReq       dto.BookAppointmentRequest
	bookBodies    map[string]string
	upload        dto.UploadInput
	uploadBody    string
	statusReq     dto.UpdateCourseStatusRequest
	deleted       bool
	openToken     string
	openContent   string
}

func (m *lifecycleServiceMock) remember(actor access.Actor, accountID, courseID string) {
	m.lastActor = actor
	m.lastAccountID = accountID
	m.lastCourseID = courseID
}

func (m *lifecycleServiceMock) ApplyForCourse(_ context.Context, actor access.Actor, accountID string, req dto.ApplyCourseRequest) (*models.AppliedCourse, error) {
	m.remember(actor, accountID, "")
	m.applyReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.AppliedCourse{ID: "course-1", ApplicationID: "2025ABCDEFGH/CC/2025/01", Status: models.CourseStatusPending}, nil
}

func (m *lifecycleServiceMock) CreatePaymentOrder(_ context.Context, actor access.Actor, accountID, courseID string) (*dto.PaymentOrderResponse, error) {
	m.remember(actor, accountID, courseID)
	if m.err != nil {
		return nil, m.err
	}
	return &dto.PaymentOrderResponse{OrderID: "order_1", Amount: 100, Currency: "INR"}, nil
}

func (m *lifecycleServiceMock) RecordPayment(_ context.Context, actor access.Actor, accountID, courseID string, _ dto.RecordPaymentRequest) (*models.AppliedCourse, error) {
	m.remember(actor, accountID, courseID)
	if m.err != nil {
		return nil, m.err
	}
	return &models.AppliedCourse{ID: courseID, PaymentStatus: models.PaymentStatusPaid}, nil
}

func (m *lifecycleServiceMock) BookAppointment(_ context.Context, actor access.Actor, accountID, courseID string, req dto.BookAppointmentRequest) (*models.AppliedCourse, error) {
	m.remember(actor, accountID, courseID)
	m.bookReq = req
	m.bookBodies = make(map[string]string, len(req.Documents))
	for _, doc := range req.Documents {
		raw, _ := io.ReadAll(doc.Body)
		m.bookBodies[doc.Label] = string(raw)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &models.AppliedCourse{ID: courseID, Status: models.CourseStatusAppointmentBooked}, nil
}

func (m *lifecycleServiceMock) UploadDocument(_ context.Context, actor access.Actor, accountID, courseID string, upload dto.UploadInput) (*models.Document, error) {
	m.remember(actor, accountID, courseID)
	m.upload = upload
	raw, _ := io.ReadAll(upload.Body)
	m.uploadBody = string(raw)
	if m.err != nil {
		return nil, m.err
	}
	return &models.Document{ID: "doc-1", Label: upload.Label, Status: models.DocumentStatusPending}, nil
}

func (m *lifecycleServiceMock) UpdateCourseStatus(_ context.Context, actor access.Actor, accountID, courseID string, req dto.UpdateCourseStatusRequest) (*models.AppliedCourse, error) {
	m.remember(actor, accountID, courseID)
	m.statusReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.AppliedCourse{ID: courseID, Status: models.CourseStatus(req.Status)}, nil
}

func (m *lifecycleServiceMock) UpdateDocumentStatus(_ context.Context, actor access.Actor, accountID, courseID, documentID string, req dto.UpdateDocumentStatusRequest) (*models.Document, error) {
	m.remember(actor, accountID, courseID)
	m.lastDocID = documentID
	if m.err != nil {
		return nil, m.err
	}
	return &models.Document{ID: documentID, Status: models.DocumentStatus(req.Status)}, nil
}

func (m *lifecycleServiceMock) DeleteApplication(_ context.Context, actor access.Actor, accountID, courseID string) error {
	m.remember(actor, accountID, courseID)
	m.deleted = m.err == nil
	return m.err
}

func (m *lifecycleServiceMock) DocumentLink(_ context.Context, actor access.Actor, accountID, courseID, documentID string) (*dto.DocumentLinkResponse, error) {
	m.remember(actor, accountID, courseID)
	m.lastDocID = documentID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.DocumentLinkResponse{URL: "/api/v1/files/token"}, nil
}

func (m *lifecycleServiceMock) OpenDocument(_ context.Context, token string) (io.ReadCloser, string, error) {
	m.openToken = token
	if m.err != nil {
		return nil, "", m.err
	}
	return io.NopCloser(strings.NewReader(m.openContent)), "marksheet.pdf", nil
}

var (
	candidateActor = access.Actor{AccountID: "cand-1", Role: models.RoleCandidate}
	staffActor     = access.Actor{AccountID: "staff-1", Role: models.RoleStaff, Permissions: models.PermissionSet{models.CapabilityRequests: true}}
)

func newTestContext(req *http.Request, actor *access.Actor, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	if actor != nil {
		c.Set(middleware.ContextActorKey, *actor)
	}
	return c, w
}

func jsonRequest(method, target, body string) *http.Request {
	req, _ := http.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for field, content := range files {
		part, err := writer.CreateFormFile(field, field+".pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req, _ := http.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestLifecycleHandlerApply(t *testing.T) {
	mockSvc := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mockSvc)

	req := jsonRequest(http.MethodPost, "/accounts/me/courses", `{"courseType":"BSc","courseCategory":"Science","courseYear":"2025"}`)
	req.Header.Set(IdempotencyHeader, "retry-1")
	c, w := newTestContext(req, &candidateActor, gin.Param{Key: "accountId", Value: "me"})

	handler.Apply(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "cand-1", mockSvc.lastAccountID)
	assert.Equal(t, "retry-1", mockSvc.applyReq.IdempotencyKey)
	assert.Equal(t, "BSc", mockSvc.applyReq.CourseType)

	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "course-1", data["id"])
}

func TestLifecycleHandlerApplyFailures(t *testing.T) {
	handler := NewLifecycleHandler(&lifecycleServiceMock{})

	c, w := newTestContext(jsonRequest(http.MethodPost, "/accounts/me/courses", `{"courseType":`), &candidateActor)
	handler.Apply(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(jsonRequest(http.MethodPost, "/accounts/me/courses", `{}`), nil)
	handler.Apply(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	locked := NewLifecycleHandler(&lifecycleServiceMock{err: appErrors.Clone(appErrors.ErrProfileLocked, "profile is locked")})
	c, w = newTestContext(jsonRequest(http.MethodPost, "/accounts/me/courses", `{}`), &candidateActor)
	locked.Apply(c)
	assert.Equal(t, appErrors.ErrProfileLocked.Status, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, appErrors.ErrProfileLocked.Code, errBody["code"])
}

func TestLifecycleHandlerUploadDocument(t *testing.T) {
	mockSvc := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mockSvc)

	req := multipartRequest(t, "/accounts/me/courses/course-1/documents", map[string]string{"label": "marksheet"}, map[string]string{"file": "%PDF-1.4"})
	c, w := newTestContext(req, &candidateActor, gin.Param{Key: "courseId", Value: "course-1"})

	handler.UploadDocument(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "course-1", mockSvc.lastCourseID)
	assert.Equal(t, "marksheet", mockSvc.upload.Label)
	assert.Equal(t, "file.pdf", mockSvc.upload.FileName)
	assert.Equal(t, int64(8), mockSvc.upload.Size)
	assert.Equal(t, "%PDF-1.4", mockSvc.uploadBody)

	missingLabel := multipartRequest(t, "/x", nil, map[string]string{"file": "x"})
	c, w = newTestContext(missingLabel, &candidateActor)
	handler.UploadDocument(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	missingFile := multipartRequest(t, "/x", map[string]string{"label": "photo"}, nil)
	c, w = newTestContext(missingFile, &candidateActor)
	handler.UploadDocument(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLifecycleHandlerBookAppointment(t *testing.T) {
	mockSvc := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mockSvc)

	req := multipartRequest(t, "/x", map[string]string{"slot": "2025-01-10/AM"}, map[string]string{"photo": "img", "aadhaar": "id"})
	c, w := newTestContext(req, &candidateActor, gin.Param{Key: "courseId", Value: "course-1"})
	handler.BookAppointment(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2025-01-10/AM", mockSvc.bookReq.Slot)
	require.Len(t, mockSvc.bookReq.Documents, 2)
	assert.Equal(t, "aadhaar", mockSvc.bookReq.Documents[0].Label, "labels are passed in sorted order")
	assert.Equal(t, map[string]string{"photo": "img", "aadhaar": "id"}, mockSvc.bookBodies)

	c, w = newTestContext(jsonRequest(http.MethodPost, "/x", `{"slot":"2025-01-11/PM"}`), &candidateActor)
	handler.BookAppointment(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2025-01-11/PM", mockSvc.bookReq.Slot)
	assert.Empty(t, mockSvc.bookReq.Documents)

	unavailable := NewLifecycleHandler(&lifecycleServiceMock{err: appErrors.ErrSlotUnavailable})
	c, w = newTestContext(jsonRequest(http.MethodPost, "/x", `{"slot":"2025-01-11/PM"}`), &candidateActor)
	unavailable.BookAppointment(c)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Status, w.Code)
}

func TestLifecycleHandlerReviewEndpoints(t *testing.T) {
	mockSvc := &lifecycleServiceMock{}
	handler := NewLifecycleHandler(mockSvc)
	params := []gin.Param{{Key: "accountId", Value: "cand-1"}, {Key: "courseId", Value: "course-1"}, {Key: "documentId", Value: "doc-9"}}

	c, w := newTestContext(jsonRequest(http.MethodPatch, "/x", `{"status":"Verified","expectedRevision":4}`), &staffActor, params...)
	handler.UpdateCourseStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cand-1", mockSvc.lastAccountID)
	require.NotNil(t, mockSvc.statusReq.ExpectedRevision)
	assert.Equal(t, int64(4), *mockSvc.statusReq.ExpectedRevision)
	assert.Equal(t, staffActor.AccountID, mockSvc.lastActor.AccountID)

	c, w = newTestContext(jsonRequest(http.MethodPatch, "/x", `{"status":"RefillRequired"}`), &staffActor, params...)
	handler.UpdateDocumentStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "doc-9", mockSvc.lastDocID)

	c, _ = newTestContext(httptest.NewRequest(http.MethodDelete, "/x", nil), &staffActor, params...)
	handler.DeleteApplication(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.True(t, mockSvc.deleted)
}

func TestLifecycleHandlerConflictCarriesRetryAfter(t *testing.T) {
	handler := NewLifecycleHandler(&lifecycleServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "course changed")})

	c, w := newTestContext(jsonRequest(http.MethodPatch, "/x", `{"status":"Verified"}`), &staffActor)
	handler.UpdateCourseStatus(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	transition := NewLifecycleHandler(&lifecycleServiceMock{err: appErrors.Clone(appErrors.ErrInvalidTransition, "course status Verified is terminal")})
	c, w = newTestContext(jsonRequest(http.MethodPatch, "/x", `{"status":"Pending"}`), &staffActor)
	transition.UpdateCourseStatus(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestLifecycleHandlerDownload(t *testing.T) {
	mockSvc := &lifecycleServiceMock{openContent: "pdf-bytes"}
	handler := NewLifecycleHandler(mockSvc)

	c, w := newTestContext(httptest.NewRequest(http.MethodGet, "/files/abc", nil), nil, gin.Param{Key: "token", Value: "abc"})
	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", mockSvc.openToken)
	assert.Equal(t, "pdf-bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "marksheet.pdf")

	denied := NewLifecycleHandler(&lifecycleServiceMock{err: appErrors.Clone(appErrors.ErrUnauthorized, "signed url expired")})
	c, w = newTestContext(httptest.NewRequest(http.MethodGet, "/files/old", nil), nil)
	denied.Download(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
