package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	"github.com/noah-isme/admission-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/jobs"
	"github.com/noah-isme/admission-portal-api/pkg/payment"
)

// Lifecycle operation names used in logs and metrics.
const (
	OpApplyForCourse       = "apply_for_course"
	OpCreatePaymentOrder   = "create_payment_order"
	OpRecordPayment        = "record_payment"
	OpBookAppointment      = "book_appointment"
	OpUploadDocument       = "upload_document"
	OpUpdateCourseStatus   = "update_course_status"
	OpUpdateDocumentStatus = "update_document_status"
	OpDeleteApplication    = "delete_application"
)

type authorizer interface {
	Authorize(actor access.Actor, action access.Action, targetAccountID string) error
}

type slotLookup interface {
	IsPublished(ctx context.Context, date, label string) (bool, error)
}

type blobStore interface {
	PutObject(ctx context.Context, key string, r io.Reader) (int64, error)
	OpenObject(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, key string) error
}

type idempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (repository.IdempotencyState, string, error)
	Complete(ctx context.Context, key, result string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type urlSigner interface {
	Generate(ownerID, key string) (string, time.Time, error)
	Parse(token string) (ownerID, key string, err error)
}

// LifecycleConfig carries the tunable rules of the lifecycle.
type LifecycleConfig struct {
	Rules               workflow.Rules
	ApplicationIDPrefix string
	CourseFee           int64
	Currency            string
	MaxUploadBytes      int64
	AllowedMIMEs        []string
	IdempotencyTTL      time.Duration
	IdempotencyLease    time.Duration
	DownloadPath        string
}

// LifecycleDeps groups the collaborators of LifecycleService.
type LifecycleDeps struct {
	Gate        authorizer
	Guard       *ConcurrencyGuard
	Slots       slotLookup
	Blobs       blobStore
	Payments    payment.Gateway
	Idempotency idempotencyStore
	Cleanup     jobEnqueuer
	Audit       auditLogger
	Signer      urlSigner
	Metrics     *MetricsService
}

// LifecycleService is the single entry point for application and document mutations.
// Each operation authorizes first, then validates against freshly read state inside
// the concurrency guard.
type LifecycleService struct {
	deps     LifecycleDeps
	cfg      LifecycleConfig
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewLifecycleService constructs the lifecycle service.
func NewLifecycleService(deps LifecycleDeps, cfg LifecycleConfig, validate *validator.Validate, logger *zap.Logger) *LifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Gate == nil {
		deps.Gate = access.NewGate(nil)
	}
	if cfg.ApplicationIDPrefix == "" {
		cfg.ApplicationIDPrefix = "CC"
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.IdempotencyLease <= 0 || cfg.IdempotencyLease > cfg.IdempotencyTTL {
		cfg.IdempotencyLease = min(2*time.Minute, cfg.IdempotencyTTL)
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/files/"
	}
	return &LifecycleService{
		deps:     deps,
		cfg:      cfg,
		validate: validate,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ApplyForCourse appends a new Pending application. A non-empty idempotency key makes
// retries of the same request return the course created by the first one.
func (s *LifecycleService) ApplyForCourse(ctx context.Context, actor access.Actor, accountID string, req dto.ApplyCourseRequest) (course *models.AppliedCourse, err error) {
	defer func() { s.record(OpApplyForCourse, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionApplyForCourse, accountID); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	idemKey := ""
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" && s.deps.Idempotency != nil {
		idemKey = "apply:" + accountID + ":" + key
		state, result, err := s.deps.Idempotency.Reserve(ctx, idemKey, s.cfg.IdempotencyLease)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "idempotency store unavailable")
		}
		switch state {
		case repository.IdempotencyInFlight:
			return nil, appErrors.ErrDuplicateRequest
		case repository.IdempotencyCompleted:
			return s.replayApplication(ctx, accountID, result)
		}
	}

	course, err = s.deps.Guard.AppendCourse(ctx, OpApplyForCourse, accountID, func(account *models.Account) (*models.AppliedCourse, error) {
		if account.Role != models.RoleCandidate {
			return nil, appErrors.Clone(appErrors.ErrValidation, "only candidate accounts can apply for courses")
		}
		if account.ProfileLocked {
			return nil, appErrors.Clone(appErrors.ErrProfileLocked, "profile is locked; unlock it before applying for another course")
		}
		return &models.AppliedCourse{
			ID:             uuid.NewString(),
			ApplicationID:  s.applicationID(account, req.CourseYear),
			CourseType:     strings.TrimSpace(req.CourseType),
			CourseCategory: strings.TrimSpace(req.CourseCategory),
			CourseYear:     req.CourseYear,
			Amount:         s.cfg.CourseFee,
			Status:         models.CourseStatusPending,
			PaymentStatus:  models.PaymentStatusPending,
			Documents:      models.DocumentList{},
		}, nil
	})
	if err != nil {
		if idemKey != "" {
			if relErr := s.deps.Idempotency.Release(ctx, idemKey); relErr != nil {
				s.logger.Warn("failed to release idempotency key", zap.String("key", idemKey), zap.Error(relErr))
			}
		}
		return nil, err
	}
	if idemKey != "" {
		if err := s.deps.Idempotency.Complete(ctx, idemKey, course.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("failed to record idempotency result", zap.String("key", idemKey), zap.Error(err))
		}
	}

	s.logger.Info("course application created",
		zap.String("account_id", accountID),
		zap.String("course_id", course.ID),
		zap.String("application_id", course.ApplicationID),
	)
	s.emitAudit(ctx, actor, models.AuditActionApply, course, nil, map[string]interface{}{
		"application_id": course.ApplicationID,
		"status":         course.Status,
	})
	return course, nil
}

// CreatePaymentOrder opens a gateway order for an unpaid course and remembers its reference.
func (s *LifecycleService) CreatePaymentOrder(ctx context.Context, actor access.Actor, accountID, courseID string) (resp *dto.PaymentOrderResponse, err error) {
	defer func() { s.record(OpCreatePaymentOrder, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionCreatePaymentOrder, accountID); err != nil {
		return nil, err
	}
	if s.deps.Payments == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "payment gateway is not configured")
	}
	account, err := s.deps.Guard.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current := account.Course(courseID)
	if current == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("application %s not found", courseID))
	}
	if err := checkPayable(current); err != nil {
		return nil, err
	}

	amount := current.Amount
	if amount <= 0 {
		amount = s.cfg.CourseFee
	}
	order, err := s.deps.Payments.CreateOrder(ctx, payment.OrderRequest{
		Amount:   amount,
		Currency: s.cfg.Currency,
		Receipt:  current.ApplicationID,
		Notes:    map[string]string{"account_id": accountID, "course_id": courseID},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "payment gateway unavailable")
	}

	course, err := s.deps.Guard.UpdateCourse(ctx, OpCreatePaymentOrder, accountID, courseID, func(_ *models.Account, course *models.AppliedCourse) error {
		if err := checkPayable(course); err != nil {
			return err
		}
		course.PaymentOrderID = order.ID
		course.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor, models.AuditActionPaymentOrder, course, nil, map[string]interface{}{
		"order_id": order.ID,
		"amount":   order.Amount,
	})
	return &dto.PaymentOrderResponse{
		OrderID:       order.ID,
		Amount:        order.Amount,
		Currency:      order.Currency,
		ApplicationID: course.ApplicationID,
	}, nil
}

// RecordPayment marks the course paid. Replaying the same reference is a no-op.
func (s *LifecycleService) RecordPayment(ctx context.Context, actor access.Actor, accountID, courseID string, req dto.RecordPaymentRequest) (course *models.AppliedCourse, err error) {
	defer func() { s.record(OpRecordPayment, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionRecordPayment, accountID); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "payment reference is required")
	}

	changed := false
	course, err = s.deps.Guard.UpdateCourse(ctx, OpRecordPayment, accountID, courseID, func(_ *models.Account, course *models.AppliedCourse) error {
		ok, err := workflow.CheckPayment(course, req.Reference)
		if err != nil {
			return err
		}
		if !ok {
			changed = false
			return errNoChange
		}
		if req.OrderID != "" && course.PaymentOrderID != "" && req.OrderID != course.PaymentOrderID {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("order %s does not belong to application %s", req.OrderID, course.ApplicationID))
		}
		workflow.ApplyPayment(course, req.Reference, s.now())
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("payment recorded", zap.String("account_id", accountID), zap.String("course_id", courseID))
		s.emitAudit(ctx, actor, models.AuditActionPaymentRecord, course,
			map[string]interface{}{"payment_status": models.PaymentStatusPending},
			map[string]interface{}{"payment_status": course.PaymentStatus, "reference": course.PaymentReference},
		)
	}
	return course, nil
}

// BookAppointment reserves a published slot and moves the course to Appointment Booked.
// Attached documents are stored before the guarded write and discarded if it fails.
func (s *LifecycleService) BookAppointment(ctx context.Context, actor access.Actor, accountID, courseID string, req dto.BookAppointmentRequest) (course *models.AppliedCourse, err error) {
	defer func() { s.record(OpBookAppointment, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionBookAppointment, accountID); err != nil {
		return nil, err
	}

	booking := workflow.Booking{}
	if strings.TrimSpace(req.Slot) != "" {
		date, label, parseErr := models.ParseSlotKey(req.Slot)
		if parseErr != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, parseErr.Error())
		}
		published, lookupErr := s.deps.Slots.IsPublished(ctx, date, label)
		if lookupErr != nil {
			return nil, appErrors.Wrap(lookupErr, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "slot catalogue unavailable")
		}
		booking.Date, booking.Label, booking.SlotPublished = date, label, published
	}

	stored := make([]string, 0, len(req.Documents))
	for _, upload := range req.Documents {
		doc, putErr := s.storeUpload(ctx, accountID, courseID, upload)
		if putErr != nil {
			s.discardBlobs(ctx, stored)
			return nil, putErr
		}
		stored = append(stored, doc.URL)
		booking.Documents = append(booking.Documents, *doc)
	}

	var from models.CourseStatus
	var released []string
	course, err = s.deps.Guard.UpdateCourse(ctx, OpBookAppointment, accountID, courseID, func(_ *models.Account, course *models.AppliedCourse) error {
		if err := s.cfg.Rules.CheckBooking(course, booking); err != nil {
			return err
		}
		from = course.Status
		released = workflow.ApplyBooking(course, booking, s.now())
		return nil
	})
	if err != nil {
		s.discardBlobs(ctx, stored)
		return nil, err
	}
	s.releaseBlobs(ctx, released)

	s.deps.Metrics.RecordTransition(string(from), string(course.Status))
	s.logger.Info("appointment booked",
		zap.String("account_id", accountID),
		zap.String("course_id", courseID),
		zap.String("from", string(from)),
		zap.String("to", string(course.Status)),
		zap.String("slot", course.AppointmentKey()),
	)
	s.emitAudit(ctx, actor, models.AuditActionAppointmentBook, course,
		map[string]interface{}{"status": from},
		map[string]interface{}{"status": course.Status, "slot": course.AppointmentKey(), "documents": len(booking.Documents)},
	)
	return course, nil
}

// UploadDocument adds a document or replaces the one with the same label.
func (s *LifecycleService) UploadDocument(ctx context.Context, actor access.Actor, accountID, courseID string, upload dto.UploadInput) (doc *models.Document, err error) {
	defer func() { s.record(OpUploadDocument, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionUploadDocument, accountID); err != nil {
		return nil, err
	}
	label := strings.TrimSpace(upload.Label)
	if label == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document label is required")
	}

	account, err := s.deps.Guard.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	current := account.Course(courseID)
	if current == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("application %s not found", courseID))
	}
	if err := workflow.CheckUpload(current, label); err != nil {
		return nil, err
	}

	incoming, err := s.storeUpload(ctx, accountID, courseID, upload)
	if err != nil {
		return nil, err
	}

	var replaced string
	course, err := s.deps.Guard.UpdateDocuments(ctx, OpUploadDocument, accountID, courseID, func(_ *models.Account, course *models.AppliedCourse) error {
		if err := workflow.CheckUpload(course, label); err != nil {
			return err
		}
		replaced = workflow.ApplyUpload(course, *incoming, s.now())
		return nil
	})
	if err != nil {
		s.discardBlobs(ctx, []string{incoming.URL})
		return nil, err
	}
	if replaced != "" {
		s.releaseBlobs(ctx, []string{replaced})
	}

	stored := course.Documents.FindLabel(label)
	s.logger.Info("document uploaded",
		zap.String("account_id", accountID),
		zap.String("course_id", courseID),
		zap.String("label", label),
		zap.Bool("replaced", replaced != ""),
	)
	s.emitAudit(ctx, actor, models.AuditActionDocumentUpload, course, nil, map[string]interface{}{
		"document_id": stored.ID,
		"label":       label,
		"status":      stored.Status,
	})
	return stored, nil
}

// UpdateCourseStatus applies a staff decision to an applied course. Approval re-checks
// every document against the freshly read course.
func (s *LifecycleService) UpdateCourseStatus(ctx context.Context, actor access.Actor, accountID, courseID string, req dto.UpdateCourseStatusRequest) (course *models.AppliedCourse, err error) {
	defer func() { s.record(OpUpdateCourseStatus, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionUpdateCourseStatus, accountID); err != nil {
		return nil, err
	}
	to, err := models.ParseCourseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var from models.CourseStatus
	course, err = s.deps.Guard.UpdateCourse(ctx, OpUpdateCourseStatus, accountID, courseID, func(_ *models.Account, course *models.AppliedCourse) error {
		if req.ExpectedRevision != nil && *req.ExpectedRevision != course.Revision {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("application %s changed since revision %d; reload before deciding", course.ApplicationID, *req.ExpectedRevision))
		}
		if _, err := workflow.StaffEvent(course.Status, to); err != nil {
			return err
		}
		if to == models.CourseStatusVerified {
			if err := s.cfg.Rules.CheckApproval(course); err != nil {
				return err
			}
		}
		from = course.Status
		workflow.ApplyStaffDecision(course, to, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.RecordTransition(string(from), string(to))
	s.logger.Info("course status updated",
		zap.String("account_id", accountID),
		zap.String("course_id", courseID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.AccountID),
	)
	s.emitAudit(ctx, actor, models.AuditActionCourseStatus, course,
		map[string]interface{}{"status": from},
		map[string]interface{}{"status": to},
	)
	return course, nil
}

// UpdateDocumentStatus applies a staff decision to one document. Only the course's
// documents array is written back.
func (s *LifecycleService) UpdateDocumentStatus(ctx context.Context, actor access.Actor, accountID, courseID, documentID string, req dto.UpdateDocumentStatusRequest) (doc *models.Document, err error) {
	defer func() { s.record(OpUpdateDocumentStatus, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionUpdateDocumentStatus, accountID); err != nil {
		return nil, err
	}
	to, err := models.ParseDocumentStatus(strings.TrimSpace(req.Status))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	var from models.DocumentStatus
	course, err := s.deps.Guard.UpdateDocuments(ctx, OpUpdateDocumentStatus, accountID, courseID, func(_ *models.Account, course *models.AppliedCourse) error {
		target, err := workflow.CheckDocumentReview(course, documentID, to)
		if err != nil {
			return err
		}
		from = target.Status
		workflow.ApplyDocumentReview(target, to, actor.AccountID, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	doc = course.Documents.Find(documentID)
	s.logger.Info("document status updated",
		zap.String("account_id", accountID),
		zap.String("course_id", courseID),
		zap.String("document_id", documentID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.emitAudit(ctx, actor, models.AuditActionDocumentStatus, course,
		map[string]interface{}{"document_id": documentID, "status": from},
		map[string]interface{}{"document_id": documentID, "status": to},
	)
	return doc, nil
}

// DeleteApplication removes an applied course permanently and queues its blobs for deletion.
func (s *LifecycleService) DeleteApplication(ctx context.Context, actor access.Actor, accountID, courseID string) (err error) {
	defer func() { s.record(OpDeleteApplication, err) }()

	if err := s.deps.Gate.Authorize(actor, access.ActionDeleteApplication, accountID); err != nil {
		return err
	}
	removed, err := s.deps.Guard.RemoveCourse(ctx, OpDeleteApplication, accountID, courseID, nil)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(removed.Documents))
	for _, doc := range removed.Documents {
		if doc.URL != "" {
			keys = append(keys, doc.URL)
		}
	}
	s.releaseBlobs(ctx, keys)

	s.logger.Info("application deleted",
		zap.String("account_id", accountID),
		zap.String("course_id", courseID),
		zap.String("actor_id", actor.AccountID),
	)
	s.emitAudit(ctx, actor, models.AuditActionApplicationDelete, removed,
		map[string]interface{}{"application_id": removed.ApplicationID, "status": removed.Status},
		nil,
	)
	return nil
}

// DocumentLink issues a signed download link for one uploaded document.
func (s *LifecycleService) DocumentLink(ctx context.Context, actor access.Actor, accountID, courseID, documentID string) (*dto.DocumentLinkResponse, error) {
	if err := s.deps.Gate.Authorize(actor, access.ActionViewDocument, accountID); err != nil {
		return nil, err
	}
	if s.deps.Signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "document links are not configured")
	}
	account, err := s.deps.Guard.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	course := account.Course(courseID)
	if course == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("application %s not found", courseID))
	}
	doc := course.Documents.Find(documentID)
	if doc == nil || doc.URL == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("document %s has no upload", documentID))
	}
	token, expiresAt, err := s.deps.Signer.Generate(accountID, doc.URL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign document link")
	}
	return &dto.DocumentLinkResponse{URL: s.cfg.DownloadPath + token, ExpiresAt: expiresAt}, nil
}

// OpenDocument resolves a signed token to the stored blob.
func (s *LifecycleService) OpenDocument(ctx context.Context, token string) (io.ReadCloser, string, error) {
	if s.deps.Signer == nil {
		return nil, "", appErrors.ErrNotFound
	}
	_, key, err := s.deps.Signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, err.Error())
	}
	rc, err := s.deps.Blobs.OpenObject(ctx, key)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	return rc, path.Base(key), nil
}

func (s *LifecycleService) replayApplication(ctx context.Context, accountID, courseID string) (*models.AppliedCourse, error) {
	account, err := s.deps.Guard.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	course := account.Course(courseID)
	if course == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("application %s from an earlier request no longer exists", courseID))
	}
	return course, nil
}

// applicationID renders <profileId>/<prefix>/<year>/<NN>. The sequence never reuses a
// number, even after a delete.
func (s *LifecycleService) applicationID(account *models.Account, year string) string {
	profile := account.ProfileID
	if profile == "" {
		profile = account.ID
	}
	return fmt.Sprintf("%s/%s/%s/%02d", profile, s.cfg.ApplicationIDPrefix, year, account.ApplicationSeq+1)
}

func (s *LifecycleService) storeUpload(ctx context.Context, accountID, courseID string, upload dto.UploadInput) (*models.Document, error) {
	label := strings.TrimSpace(upload.Label)
	if label == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document label is required")
	}
	if upload.Body == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document %s has no content", label))
	}
	if s.cfg.MaxUploadBytes > 0 && upload.Size > s.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document %s exceeds %d bytes", label, s.cfg.MaxUploadBytes))
	}
	contentType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	if !s.mimeAllowed(contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content type %q is not accepted", upload.ContentType))
	}
	if s.deps.Blobs == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "blob storage is not configured")
	}

	key := path.Join("accounts", accountID, courseID, uuid.NewString()+path.Ext(upload.FileName))
	body := upload.Body
	if s.cfg.MaxUploadBytes > 0 {
		body = io.LimitReader(upload.Body, s.cfg.MaxUploadBytes+1)
	}
	size, err := s.deps.Blobs.PutObject(ctx, key, body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "blob storage unavailable")
	}
	if s.cfg.MaxUploadBytes > 0 && size > s.cfg.MaxUploadBytes {
		s.discardBlobs(ctx, []string{key})
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document %s exceeds %d bytes", label, s.cfg.MaxUploadBytes))
	}
	return &models.Document{
		Label:       label,
		Name:        upload.FileName,
		URL:         key,
		ContentType: contentType,
		SizeBytes:   size,
	}, nil
}

func (s *LifecycleService) mimeAllowed(contentType string) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	base, _, _ := strings.Cut(contentType, ";")
	for _, allowed := range s.cfg.AllowedMIMEs {
		if strings.EqualFold(strings.TrimSpace(base), allowed) {
			return true
		}
	}
	return false
}

// discardBlobs removes blobs written for a mutation that did not commit.
func (s *LifecycleService) discardBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.deps.Blobs.DeleteObject(ctx, key); err != nil {
			s.logger.Warn("failed to discard uploaded blob", zap.String("key", key), zap.Error(err))
		}
	}
}

// releaseBlobs queues blobs no longer referenced by any document. Without a queue they
// are deleted inline.
func (s *LifecycleService) releaseBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if s.deps.Cleanup != nil {
			err := s.deps.Cleanup.Enqueue(ctx, jobs.Job{ID: uuid.NewString(), Type: JobTypeBlobDelete, Payload: key})
			if err == nil {
				continue
			}
			s.logger.Warn("cleanup queue rejected blob, deleting inline", zap.String("key", key), zap.Error(err))
		}
		if s.deps.Blobs == nil {
			continue
		}
		if err := s.deps.Blobs.DeleteObject(ctx, key); err != nil {
			s.logger.Warn("failed to delete released blob", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *LifecycleService) record(op string, err error) {
	s.deps.Metrics.RecordLifecycle(op, outcomeOf(err))
}

func (s *LifecycleService) emitAudit(ctx context.Context, actor access.Actor, action string, course *models.AppliedCourse, oldValues, newValues map[string]interface{}) {
	if s.deps.Audit == nil || course == nil {
		return
	}
	userID := actor.AccountID
	resourceID := course.ID
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   models.AuditResourceCourse,
		ResourceID: &resourceID,
		OldValues:  marshalAudit(oldValues),
		NewValues:  marshalAudit(newValues),
		IPAddress:  "system",
		UserAgent:  "lifecycle-service",
	}
	if err := s.deps.Audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func checkPayable(course *models.AppliedCourse) error {
	if course.PaymentStatus == models.PaymentStatusPaid {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("application %s is already paid", course.ApplicationID))
	}
	if course.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("course status %s is terminal", course.Status))
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, appErrors.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, appErrors.ErrStoreUnavailable), errors.Is(err, appErrors.ErrInternal):
		return OutcomeError
	default:
		return OutcomeRejected
	}
}

func marshalAudit(values map[string]interface{}) []byte {
	if values == nil {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return raw
}
