package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	"github.com/noah-isme/admission-portal-api/internal/workflow"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/jobs"
)

// interleavingStore holds the next n aggregate reads until all n have happened, so
// concurrent mutations are forced to compute from the same snapshot.
type interleavingStore struct {
	aggregateStore

	mu      sync.Mutex
	pending int
	arrived int
	release chan struct{}
}

func (s *interleavingStore) arm(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending, s.arrived = n, 0
	s.release = make(chan struct{})
}

func (s *interleavingStore) ReadAggregate(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.aggregateStore.ReadAggregate(ctx, accountID)

	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return account, err
	}
	s.arrived++
	release := s.release
	if s.arrived == s.pending {
		s.pending = 0
		close(release)
	}
	s.mu.Unlock()

	select {
	case <-release:
		return account, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func TestLifecycleApprovalScenario(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	course := f.apply(t)
	assert.Equal(t, models.CourseStatusPending, course.Status)
	assert.Equal(t, models.PaymentStatusPending, course.PaymentStatus)
	assert.Equal(t, "2025ABCDEFGH/CC/2025/01", course.ApplicationID)

	f.pay(t, course.ID)
	assert.Equal(t, models.PaymentStatusPaid, f.course(t, course.ID).PaymentStatus)

	booked := f.book(t, course.ID)
	assert.Equal(t, models.CourseStatusAppointmentBooked, booked.Status)
	assert.Equal(t, "2025-01-10/AM", booked.AppointmentKey())

	var docIDs []string
	for _, label := range []string{"marksheet", "identity", "photo"} {
		doc := f.upload(t, course.ID, label, "content of "+label)
		assert.Equal(t, models.DocumentStatusPending, doc.Status)
		docIDs = append(docIDs, doc.ID)
	}
	assert.Equal(t, 3, f.blobs.count())

	for _, id := range docIDs {
		doc, err := f.svc.UpdateDocumentStatus(ctx, f.staff, f.accountID(), course.ID, id, dto.UpdateDocumentStatusRequest{Status: "Verified"})
		require.NoError(t, err)
		assert.Equal(t, models.DocumentStatusVerified, doc.Status)
		assert.Equal(t, f.staff.AccountID, doc.ReviewedBy)
	}

	approved, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusVerified, approved.Status)

	final := f.course(t, course.ID)
	assert.Equal(t, models.CourseStatusVerified, final.Status)
	assert.Equal(t, models.PaymentStatusPaid, final.PaymentStatus)
	require.Len(t, final.Documents, 3)
	for _, doc := range final.Documents {
		assert.Equal(t, models.DocumentStatusVerified, doc.Status)
	}

	logs, err := f.audit.List(ctx, models.AuditFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestLifecycleDocumentRefillScenario(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)
	first := f.upload(t, course.ID, "marksheet", "blurry scan")

	refill, err := f.svc.UpdateDocumentStatus(ctx, f.staff, f.accountID(), course.ID, first.ID, dto.UpdateDocumentStatusRequest{Status: "Refill Required"})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusRefillRequired, refill.Status)

	_, err = f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDocumentsIncomplete.Code))

	second := f.upload(t, course.ID, "marksheet", "clear scan")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.DocumentStatusPending, second.Status)
	assert.NotEqual(t, first.URL, second.URL)
	assert.False(t, f.blobs.has(first.URL))
	assert.True(t, f.blobs.has(second.URL))

	_, err = f.svc.UpdateDocumentStatus(ctx, f.staff, f.accountID(), course.ID, second.ID, dto.UpdateDocumentStatusRequest{Status: "Verified"})
	require.NoError(t, err)

	approved, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusVerified, approved.Status)
}

func TestLifecycleCourseRefillRebooking(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)
	doc := f.upload(t, course.ID, "marksheet", "v1")

	_, err := f.svc.UpdateDocumentStatus(ctx, f.staff, f.accountID(), course.ID, doc.ID, dto.UpdateDocumentStatusRequest{Status: "Refill Required"})
	require.NoError(t, err)
	refill, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Refill Required"})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusRefillRequired, refill.Status)

	rebooked, err := f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{
		Slot:      "2025-01-10/AM",
		Documents: []dto.UploadInput{uploadInput("marksheet", "v2")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusAppointmentBooked, rebooked.Status)
	stored := rebooked.Documents.FindLabel("marksheet")
	require.NotNil(t, stored)
	assert.Equal(t, models.DocumentStatusPending, stored.Status)
	assert.NotEqual(t, doc.URL, stored.URL)
	assert.False(t, f.blobs.has(doc.URL))
	assert.Equal(t, 1, f.blobs.count())
}

func TestBookAppointmentGuards(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)

	_, err := f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{Slot: "2025-01-10/AM"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPaymentRequired.Code))

	f.pay(t, course.ID)

	_, err = f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSlotRequired.Code))

	_, err = f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{Slot: "2025-01-11/PM"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSlotUnavailable.Code))

	_, err = f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{Slot: "not-a-slot"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	assert.Equal(t, models.CourseStatusPending, f.course(t, course.ID).Status)

	booked, err := f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{Slot: "2025-01-10/AM"})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusAppointmentBooked, booked.Status)

	_, err = f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{Slot: "2025-01-10/AM"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestBookAppointmentRequiredDocuments(t *testing.T) {
	f := newLifecycleFixture(t)
	f.svc.cfg.Rules = workflow.Rules{RequiredDocuments: []string{"marksheet"}}
	ctx := context.Background()

	course := f.apply(t)
	f.pay(t, course.ID)

	_, err := f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{
		Slot:      "2025-01-10/AM",
		Documents: []dto.UploadInput{uploadInput("photo", "img")},
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDocumentsMissing.Code))
	assert.Equal(t, 0, f.blobs.count(), "blobs from a rejected booking are discarded")

	booked, err := f.svc.BookAppointment(ctx, f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{
		Slot:      "2025-01-10/AM",
		Documents: []dto.UploadInput{uploadInput("marksheet", "pdf")},
	})
	require.NoError(t, err)
	assert.Len(t, booked.Documents, 1)
	assert.Equal(t, 1, f.blobs.count())
}

func TestLifecycleAuthorization(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)
	doc := f.upload(t, course.ID, "marksheet", "scan")

	noRequests := access.Actor{AccountID: "staff-2", Role: models.RoleStaff, Permissions: models.PermissionSet{models.CapabilityDashboard: true}}
	for _, target := range []string{f.accountID(), "someone-else", noRequests.AccountID} {
		_, err := f.svc.UpdateCourseStatus(ctx, noRequests, target, course.ID, dto.UpdateCourseStatusRequest{Status: "Rejected"})
		assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code), "target %s", target)

		_, err = f.svc.UpdateDocumentStatus(ctx, noRequests, target, course.ID, doc.ID, dto.UpdateDocumentStatusRequest{Status: "Verified"})
		assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code), "target %s", target)

		err = f.svc.DeleteApplication(ctx, noRequests, target, course.ID)
		assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code), "target %s", target)
	}

	other := access.Actor{AccountID: "other-candidate", Role: models.RoleCandidate}
	_, err := f.svc.UploadDocument(ctx, other, f.accountID(), course.ID, uploadInput("photo", "x"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	_, err = f.svc.UpdateCourseStatus(ctx, f.candidate, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	_, err = f.svc.ApplyForCourse(ctx, access.Actor{}, f.accountID(), dto.ApplyCourseRequest{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))

	unchanged := f.course(t, course.ID)
	assert.Equal(t, models.CourseStatusAppointmentBooked, unchanged.Status)
	assert.Equal(t, models.DocumentStatusPending, unchanged.Documents[0].Status)

	_, err = f.svc.UpdateDocumentStatus(ctx, f.admin, f.accountID(), course.ID, doc.ID, dto.UpdateDocumentStatusRequest{Status: "Rejected"})
	require.NoError(t, err)
	_, err = f.svc.UpdateCourseStatus(ctx, f.admin, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Rejected"})
	require.NoError(t, err)
}

func TestUpdateCourseStatusRejectsInvalidPairs(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)

	cases := []struct {
		name   string
		status string
	}{
		{name: "approve pending", status: "Verified"},
		{name: "reject pending", status: "Rejected"},
		{name: "same status", status: "Pending"},
		{name: "candidate-only status", status: "Appointment Booked"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.course(t, course.ID)
			_, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: tc.status})
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
			after := f.course(t, course.ID)
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.Revision, after.Revision)
		})
	}

	_, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Archived"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestTerminalCourseIsFrozen(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)
	doc := f.upload(t, course.ID, "marksheet", "scan")

	_, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Rejected"})
	require.NoError(t, err)

	_, err = f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Refill Required"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))

	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, uploadInput("photo", "img"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))

	_, err = f.svc.UpdateDocumentStatus(ctx, f.staff, f.accountID(), course.ID, doc.ID, dto.UpdateDocumentStatusRequest{Status: "Verified"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))

	assert.Equal(t, 1, f.blobs.count())
}

func TestApprovalRequiresVerifiedDocuments(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)

	_, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDocumentsIncomplete.Code), "a course without documents cannot be approved")

	verified := f.upload(t, course.ID, "marksheet", "a")
	f.upload(t, course.ID, "identity", "b")
	_, err = f.svc.UpdateDocumentStatus(ctx, f.staff, f.accountID(), course.ID, verified.ID, dto.UpdateDocumentStatusRequest{Status: "Verified"})
	require.NoError(t, err)

	_, err = f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrDocumentsIncomplete.Code))
	assert.Contains(t, err.Error(), "identity")
	assert.Equal(t, models.CourseStatusAppointmentBooked, f.course(t, course.ID).Status)
}

func TestUpdateCourseStatusExpectedRevision(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)

	stale := f.course(t, course.ID).Revision
	f.upload(t, course.ID, "marksheet", "late upload")

	_, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Rejected", ExpectedRevision: &stale})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
	assert.Zero(t, f.metrics.Snapshot().GuardRetries, "a stale decision is not retried")

	current := f.course(t, course.ID).Revision
	rejected, err := f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Rejected", ExpectedRevision: &current})
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusRejected, rejected.Status)
}

func TestConcurrentDocumentReviewsBothPersist(t *testing.T) {
	var barrier *interleavingStore
	f := newLifecycleFixtureWithStore(t, repository.NewMemoryAccountStore(), func(inner aggregateStore) aggregateStore {
		barrier = &interleavingStore{aggregateStore: inner}
		return barrier
	})
	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)
	first := f.upload(t, course.ID, "marksheet", "a")
	second := f.upload(t, course.ID, "identity", "b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	barrier.arm(2)
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range []string{first.ID, second.ID} {
		id := id
		g.Go(func() error {
			_, err := f.svc.UpdateDocumentStatus(gctx, f.staff, f.accountID(), course.ID, id, dto.UpdateDocumentStatusRequest{Status: "Verified"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored := f.course(t, course.ID)
	require.Len(t, stored.Documents, 2)
	for _, doc := range stored.Documents {
		assert.Equal(t, models.DocumentStatusVerified, doc.Status, doc.Label)
	}
	assert.GreaterOrEqual(t, f.metrics.Snapshot().GuardRetries, uint64(1))
}

func TestConcurrentApprovalAndUploadSerialize(t *testing.T) {
	var barrier *interleavingStore
	f := newLifecycleFixtureWithStore(t, repository.NewMemoryAccountStore(), func(inner aggregateStore) aggregateStore {
		barrier = &interleavingStore{aggregateStore: inner}
		return barrier
	})
	course := f.apply(t)
	f.pay(t, course.ID)
	f.book(t, course.ID)
	doc := f.upload(t, course.ID, "marksheet", "a")
	_, err := f.svc.UpdateDocumentStatus(context.Background(), f.staff, f.accountID(), course.ID, doc.ID, dto.UpdateDocumentStatusRequest{Status: "Verified"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var uploadErr, approveErr error
	barrier.arm(2)
	var g errgroup.Group
	g.Go(func() error {
		_, uploadErr = f.guard.UpdateDocuments(ctx, OpUploadDocument, f.accountID(), course.ID, func(_ *models.Account, c *models.AppliedCourse) error {
			if err := workflow.CheckUpload(c, "identity"); err != nil {
				return err
			}
			workflow.ApplyUpload(c, models.Document{Label: "identity", URL: "accounts/x/identity.pdf"}, time.Now())
			return nil
		})
		return nil
	})
	g.Go(func() error {
		_, approveErr = f.svc.UpdateCourseStatus(ctx, f.staff, f.accountID(), course.ID, dto.UpdateCourseStatusRequest{Status: "Verified"})
		return nil
	})
	require.NoError(t, g.Wait())

	stored := f.course(t, course.ID)
	if approveErr != nil {
		// The upload committed first; the approval retried and saw a pending document.
		require.NoError(t, uploadErr)
		assert.True(t, appErrors.HasCode(approveErr, appErrors.ErrDocumentsIncomplete.Code), approveErr.Error())
		assert.Equal(t, models.CourseStatusAppointmentBooked, stored.Status)
		assert.Len(t, stored.Documents, 2)
		return
	}
	// The approval committed first; the upload retried against a terminal course.
	require.Error(t, uploadErr)
	assert.True(t, appErrors.HasCode(uploadErr, appErrors.ErrInvalidTransition.Code), uploadErr.Error())
	assert.Equal(t, models.CourseStatusVerified, stored.Status)
	assert.Len(t, stored.Documents, 1)
}

func TestApplyForCourseIdempotencyAndLock(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	req := dto.ApplyCourseRequest{CourseType: "diploma", CourseCategory: "General", CourseYear: "2025", IdempotencyKey: "req-1"}

	first, err := f.svc.ApplyForCourse(ctx, f.candidate, f.accountID(), req)
	require.NoError(t, err)
	replayed, err := f.svc.ApplyForCourse(ctx, f.candidate, f.accountID(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)

	account, err := f.store.ReadAggregate(ctx, f.accountID())
	require.NoError(t, err)
	assert.Len(t, account.AppliedCourses, 1)

	_, err = f.svc.ApplyForCourse(ctx, f.candidate, f.accountID(), dto.ApplyCourseRequest{CourseType: "diploma", CourseCategory: "General", CourseYear: "25"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	account.ProfileLocked = true
	require.NoError(t, f.store.WriteProfile(ctx, account, account.Version))

	req.IdempotencyKey = "req-2"
	_, err = f.svc.ApplyForCourse(ctx, f.candidate, f.accountID(), req)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrProfileLocked.Code))

	// The key is released on failure so the same request can succeed later.
	account, err = f.store.ReadAggregate(ctx, f.accountID())
	require.NoError(t, err)
	account.ProfileLocked = false
	require.NoError(t, f.store.WriteProfile(ctx, account, account.Version))
	retried, err := f.svc.ApplyForCourse(ctx, f.candidate, f.accountID(), req)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(retried.ApplicationID, "/02"))
}

type recordingIdempotency struct {
	*repository.IdempotencyRepository
	reserveTTL  time.Duration
	completeTTL time.Duration
}

func (r *recordingIdempotency) Reserve(ctx context.Context, key string, lease time.Duration) (repository.IdempotencyState, string, error) {
	r.reserveTTL = lease
	return r.IdempotencyRepository.Reserve(ctx, key, lease)
}

func (r *recordingIdempotency) Complete(ctx context.Context, key, result string, ttl time.Duration) error {
	r.completeTTL = ttl
	return r.IdempotencyRepository.Complete(ctx, key, result, ttl)
}

func TestApplyForCourseHoldsKeyForLeaseOnly(t *testing.T) {
	f := newLifecycleFixture(t)
	recorder := &recordingIdempotency{IdempotencyRepository: repository.NewIdempotencyRepository(nil)}
	f.svc.deps.Idempotency = recorder
	req := dto.ApplyCourseRequest{CourseType: "diploma", CourseCategory: "General", CourseYear: "2025", IdempotencyKey: "req-1"}

	_, err := f.svc.ApplyForCourse(context.Background(), f.candidate, f.accountID(), req)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, recorder.reserveTTL)
	assert.Equal(t, 24*time.Hour, recorder.completeTTL)
}

func TestDeleteApplicationReleasesBlobsAndKeepsSequence(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	queue := &recordingQueue{}
	f.svc.deps.Cleanup = queue

	course := f.apply(t)
	f.pay(t, course.ID)
	doc := f.upload(t, course.ID, "marksheet", "scan")

	err := f.svc.DeleteApplication(ctx, f.candidate, f.accountID(), course.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	require.NoError(t, f.svc.DeleteApplication(ctx, f.staff, f.accountID(), course.ID))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypeBlobDelete, queue.jobs[0].Type)
	assert.Equal(t, doc.URL, queue.jobs[0].Payload)

	err = f.svc.DeleteApplication(ctx, f.staff, f.accountID(), course.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	next := f.apply(t)
	assert.Equal(t, "2025ABCDEFGH/CC/2025/02", next.ApplicationID)

	queue.err = jobs.ErrQueueClosed
	f.pay(t, next.ID)
	other := f.upload(t, next.ID, "photo", "img")
	require.NoError(t, f.svc.DeleteApplication(ctx, f.admin, f.accountID(), next.ID))
	assert.False(t, f.blobs.has(other.URL), "blobs are deleted inline when the queue rejects them")
}

func TestPaymentOperations(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)

	order, err := f.svc.CreatePaymentOrder(ctx, f.candidate, f.accountID(), course.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, int64(100), order.Amount)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, order.OrderID, f.course(t, course.ID).PaymentOrderID)

	_, err = f.svc.RecordPayment(ctx, f.candidate, f.accountID(), course.ID, dto.RecordPaymentRequest{Reference: "pay_1", OrderID: "order_other"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	paid, err := f.svc.RecordPayment(ctx, f.candidate, f.accountID(), course.ID, dto.RecordPaymentRequest{Reference: "pay_1", OrderID: order.OrderID})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	revision := f.course(t, course.ID).Revision

	again, err := f.svc.RecordPayment(ctx, f.candidate, f.accountID(), course.ID, dto.RecordPaymentRequest{Reference: "pay_1"})
	require.NoError(t, err)
	assert.Equal(t, "pay_1", again.PaymentReference)
	assert.Equal(t, revision, f.course(t, course.ID).Revision, "replayed callback writes nothing")

	_, err = f.svc.RecordPayment(ctx, f.candidate, f.accountID(), course.ID, dto.RecordPaymentRequest{Reference: "pay_2"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))

	_, err = f.svc.CreatePaymentOrder(ctx, f.candidate, f.accountID(), course.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))

	_, err = f.svc.RecordPayment(ctx, f.candidate, f.accountID(), course.ID, dto.RecordPaymentRequest{})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestUploadDocumentValidation(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)

	_, err := f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, uploadInput("marksheet", "x"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPaymentRequired.Code))

	f.pay(t, course.ID)

	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, uploadInput("", "x"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	exe := uploadInput("marksheet", "MZ")
	exe.ContentType = "application/x-msdownload"
	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, exe)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	large := uploadInput("marksheet", strings.Repeat("a", 2048))
	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, large)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	lying := uploadInput("marksheet", strings.Repeat("a", 2048))
	lying.Size = 10
	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, lying)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.Equal(t, 0, f.blobs.count())

	f.blobs.putErr = errors.New("disk full")
	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), course.ID, uploadInput("marksheet", "x"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStoreUnavailable.Code))
	f.blobs.putErr = nil

	_, err = f.svc.UploadDocument(ctx, f.candidate, f.accountID(), "missing", uploadInput("marksheet", "x"))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestDocumentLinkRoundTrip(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	course := f.apply(t)
	f.pay(t, course.ID)
	doc := f.upload(t, course.ID, "marksheet", "signed content")

	link, err := f.svc.DocumentLink(ctx, f.staff, f.accountID(), course.ID, doc.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "/api/v1/files/"))
	assert.True(t, link.ExpiresAt.After(time.Now()))

	rc, name, err := f.svc.OpenDocument(ctx, strings.TrimPrefix(link.URL, "/api/v1/files/"))
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "signed content", string(body))
	assert.True(t, strings.HasSuffix(name, ".pdf"))

	_, _, err = f.svc.OpenDocument(ctx, "garbage")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))

	_, err = f.svc.DocumentLink(ctx, access.Actor{AccountID: "intruder", Role: models.RoleCandidate}, f.accountID(), course.ID, doc.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))
}

func TestLifecycleMetricsOutcomes(t *testing.T) {
	f := newLifecycleFixture(t)
	course := f.apply(t)
	_, err := f.svc.BookAppointment(context.Background(), f.candidate, f.accountID(), course.ID, dto.BookAppointmentRequest{Slot: "2025-01-10/AM"})
	require.Error(t, err)

	assert.Equal(t, OutcomeSuccess, outcomeOf(nil))
	assert.Equal(t, OutcomeRejected, outcomeOf(err))
	assert.Equal(t, OutcomeConflict, outcomeOf(appErrors.Clone(appErrors.ErrConflict, "x")))
	assert.Equal(t, OutcomeError, outcomeOf(appErrors.ErrStoreUnavailable))
}
