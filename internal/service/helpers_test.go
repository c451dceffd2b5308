package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	"github.com/noah-isme/admission-portal-api/pkg/payment"
	"github.com/noah-isme/admission-portal-api/pkg/storage"
)

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: make(map[string][]byte)}
}

func (m *memoryBlobs) PutObject(_ context.Context, key string, r io.Reader) (int64, error) {
	if m.putErr != nil {
		return 0, m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return int64(len(data)), nil
}

func (m *memoryBlobs) OpenObject(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobs) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryBlobs) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memoryBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type lifecycleFixture struct {
	store   *repository.MemoryAccountStore
	slots   *repository.MemorySlotStore
	audit   *repository.MemoryAuditStore
	blobs   *memoryBlobs
	metrics *MetricsService
	guard   *ConcurrencyGuard
	svc     *LifecycleService
	profile *ProfileService

	candidate access.Actor
	staff     access.Actor
	admin     access.Actor
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	return newLifecycleFixtureWithStore(t, repository.NewMemoryAccountStore(), nil)
}

// newLifecycleFixtureWithStore lets tests wrap the memory store, e.g. to force interleavings.
func newLifecycleFixtureWithStore(t *testing.T, store *repository.MemoryAccountStore, wrap func(aggregateStore) aggregateStore) *lifecycleFixture {
	t.Helper()
	ctx := context.Background()

	account := &models.Account{
		Email:       "candidate@example.com",
		FullName:    "Asha Candidate",
		ProfileID:   "2025ABCDEFGH",
		Role:        models.RoleCandidate,
		Permissions: models.PermissionSet{},
		Profile:     models.ProfileSections{},
		Active:      true,
	}
	require.NoError(t, store.Create(ctx, account))

	var guardStore aggregateStore = store
	if wrap != nil {
		guardStore = wrap(store)
	}

	f := &lifecycleFixture{
		store:   store,
		slots:   repository.NewMemorySlotStore(),
		audit:   repository.NewMemoryAuditStore(),
		blobs:   newMemoryBlobs(),
		metrics: NewMetricsService(),
	}
	f.guard = NewConcurrencyGuard(guardStore, GuardConfig{MaxAttempts: 3}, f.metrics, nil)
	f.svc = NewLifecycleService(LifecycleDeps{
		Gate:        access.NewGate(nil),
		Guard:       f.guard,
		Slots:       f.slots,
		Blobs:       f.blobs,
		Payments:    payment.NewManualGateway("INR"),
		Idempotency: repository.NewIdempotencyRepository(nil),
		Audit:       f.audit,
		Signer:      storage.NewSignedURLSigner("test-secret", time.Minute),
		Metrics:     f.metrics,
	}, LifecycleConfig{
		ApplicationIDPrefix: "CC",
		CourseFee:           100,
		Currency:            "INR",
		MaxUploadBytes:      1024,
		AllowedMIMEs:        []string{"application/pdf", "image/png"},
	}, nil, nil)
	f.profile = NewProfileService(access.NewGate(nil), f.guard, f.audit, f.metrics, nil)

	f.candidate = access.Actor{AccountID: account.ID, Role: models.RoleCandidate}
	f.staff = access.Actor{AccountID: "staff-1", Role: models.RoleStaff, Permissions: models.PermissionSet{models.CapabilityRequests: true}}
	f.admin = access.Actor{AccountID: "admin-1", Role: models.RoleAdmin}

	require.NoError(t, f.slots.Upsert(ctx, &models.AppointmentSlot{Date: "2025-01-10", Label: "AM", Published: true}))
	require.NoError(t, f.slots.Upsert(ctx, &models.AppointmentSlot{Date: "2025-01-11", Label: "PM", Published: false}))
	return f
}

func (f *lifecycleFixture) accountID() string {
	return f.candidate.AccountID
}

func (f *lifecycleFixture) apply(t *testing.T) *models.AppliedCourse {
	t.Helper()
	course, err := f.svc.ApplyForCourse(context.Background(), f.candidate, f.accountID(), dto.ApplyCourseRequest{
		CourseType:     "certificate-course",
		CourseCategory: "General",
		CourseYear:     "2025",
	})
	require.NoError(t, err)
	return course
}

func (f *lifecycleFixture) pay(t *testing.T, courseID string) {
	t.Helper()
	_, err := f.svc.RecordPayment(context.Background(), f.candidate, f.accountID(), courseID, dto.RecordPaymentRequest{Reference: "pay_" + courseID[:8]})
	require.NoError(t, err)
}

func (f *lifecycleFixture) book(t *testing.T, courseID string) *models.AppliedCourse {
	t.Helper()
	course, err := f.svc.BookAppointment(context.Background(), f.candidate, f.accountID(), courseID, dto.BookAppointmentRequest{Slot: "2025-01-10/AM"})
	require.NoError(t, err)
	return course
}

func (f *lifecycleFixture) upload(t *testing.T, courseID, label, body string) *models.Document {
	t.Helper()
	doc, err := f.svc.UploadDocument(context.Background(), f.candidate, f.accountID(), courseID, uploadInput(label, body))
	require.NoError(t, err)
	return doc
}

func (f *lifecycleFixture) course(t *testing.T, courseID string) *models.AppliedCourse {
	t.Helper()
	account, err := f.store.ReadAggregate(context.Background(), f.accountID())
	require.NoError(t, err)
	course := account.Course(courseID)
	require.NotNil(t, course)
	return course
}

func uploadInput(label, body string) dto.UploadInput {
	return dto.UploadInput{
		Label:       label,
		FileName:    label + ".pdf",
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}
