package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

var now = time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)

func TestCourseTransitionTable(t *testing.T) {
	legal := map[[2]models.CourseStatus]bool{
		{models.CourseStatusPending, models.CourseStatusAppointmentBooked}:        true,
		{models.CourseStatusAppointmentBooked, models.CourseStatusVerified}:       true,
		{models.CourseStatusAppointmentBooked, models.CourseStatusRejected}:       true,
		{models.CourseStatusAppointmentBooked, models.CourseStatusRefillRequired}: true,
		{models.CourseStatusRefillRequired, models.CourseStatusAppointmentBooked}: true,
	}

	for _, from := range models.AllCourseStatuses {
		for _, to := range models.AllCourseStatuses {
			pair := [2]models.CourseStatus{from, to}
			assert.Equal(t, legal[pair], Allowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStaffEventRejectsIllegalPairs(t *testing.T) {
	for _, from := range models.AllCourseStatuses {
		for _, to := range models.AllCourseStatuses {
			ev, err := StaffEvent(from, to)
			staffLegal := from == models.CourseStatusAppointmentBooked &&
				(to == models.CourseStatusVerified || to == models.CourseStatusRejected || to == models.CourseStatusRefillRequired)
			if staffLegal {
				require.NoError(t, err, "%s -> %s", from, to)
				next, err := Next(from, ev)
				require.NoError(t, err)
				assert.Equal(t, to, next)
				continue
			}
			assert.ErrorIs(t, err, appErrors.ErrInvalidTransition, "%s -> %s", from, to)
		}
	}
}

func TestTerminalMessageNamesRule(t *testing.T) {
	_, err := Next(models.CourseStatusVerified, EventBook)
	require.Error(t, err)
	assert.Equal(t, "course status Verified is terminal", appErrors.FromError(err).Message)

	_, err = Next(models.CourseStatusPending, EventApprove)
	assert.Equal(t, "cannot approve a course in status Pending", appErrors.FromError(err).Message)
}

func paidCourse() *models.AppliedCourse {
	return &models.AppliedCourse{
		ID:            "c1",
		ApplicationID: "PRF1/CC/2025/01",
		Status:        models.CourseStatusPending,
		PaymentStatus: models.PaymentStatusPaid,
	}
}

func TestCheckBookingGuards(t *testing.T) {
	rules := Rules{}
	tests := []struct {
		name    string
		mutate  func(*models.AppliedCourse)
		booking Booking
		want    *appErrors.Error
	}{
		{
			name:    "payment pending",
			mutate:  func(c *models.AppliedCourse) { c.PaymentStatus = models.PaymentStatusPending },
			booking: Booking{Date: "2025-01-10", Label: "AM", SlotPublished: true},
			want:    appErrors.ErrPaymentRequired,
		},
		{
			name:    "no slot chosen",
			booking: Booking{SlotPublished: true},
			want:    appErrors.ErrSlotRequired,
		},
		{
			name:    "slot not published",
			booking: Booking{Date: "2025-01-10", Label: "PM"},
			want:    appErrors.ErrSlotUnavailable,
		},
		{
			name:    "already booked",
			mutate:  func(c *models.AppliedCourse) { c.Status = models.CourseStatusAppointmentBooked },
			booking: Booking{Date: "2025-01-10", Label: "AM", SlotPublished: true},
			want:    appErrors.ErrInvalidTransition,
		},
		{
			name:    "ok",
			booking: Booking{Date: "2025-01-10", Label: "AM", SlotPublished: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			course := paidCourse()
			if tc.mutate != nil {
				tc.mutate(course)
			}
			err := rules.CheckBooking(course, tc.booking)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCheckBookingRequiredDocuments(t *testing.T) {
	rules := Rules{RequiredDocuments: []string{"photo", "marksheet"}}
	course := paidCourse()
	course.Documents = models.DocumentList{{ID: "d1", Label: "photo", URL: "k/photo", Status: models.DocumentStatusPending}}

	err := rules.CheckBooking(course, Booking{Date: "2025-01-10", Label: "AM", SlotPublished: true})
	require.ErrorIs(t, err, appErrors.ErrDocumentsMissing)
	assert.Contains(t, err.Error(), "marksheet")

	err = rules.CheckBooking(course, Booking{
		Date: "2025-01-10", Label: "AM", SlotPublished: true,
		Documents: []models.Document{{Label: "marksheet", URL: "k/marksheet"}},
	})
	assert.NoError(t, err)
}

func TestApplyBookingAfterRefillResetsFlaggedDocuments(t *testing.T) {
	course := paidCourse()
	course.Status = models.CourseStatusRefillRequired
	course.Documents = models.DocumentList{
		{ID: "d1", Label: "photo", URL: "k/photo", Status: models.DocumentStatusRefillRequired},
		{ID: "d2", Label: "sign", URL: "k/sign", Status: models.DocumentStatusVerified},
	}

	released := ApplyBooking(course, Booking{Date: "2025-01-12", Label: "PM", SlotPublished: true}, now)

	assert.Equal(t, []string{"k/photo"}, released)
	assert.Equal(t, models.CourseStatusAppointmentBooked, course.Status)
	assert.Equal(t, "2025-01-12/PM", course.AppointmentKey())
	assert.Equal(t, models.DocumentStatusPending, course.Documents[0].Status)
	assert.Empty(t, course.Documents[0].URL)
	assert.Nil(t, course.Documents[0].UploadedAt)
	assert.Equal(t, models.DocumentStatusVerified, course.Documents[1].Status)
}

func TestApplyBookingAttachesDocumentsAsPending(t *testing.T) {
	course := paidCourse()
	ApplyBooking(course, Booking{
		Date: "2025-01-10", Label: "AM", SlotPublished: true,
		Documents: []models.Document{{Label: "photo", URL: "k/photo", Status: models.DocumentStatusVerified}},
	}, now)

	require.Len(t, course.Documents, 1)
	assert.NotEmpty(t, course.Documents[0].ID)
	assert.Equal(t, models.DocumentStatusPending, course.Documents[0].Status)
	require.NotNil(t, course.Documents[0].UploadedAt)
}

func TestCheckApproval(t *testing.T) {
	rules := Rules{}
	course := paidCourse()
	course.Status = models.CourseStatusAppointmentBooked

	assert.ErrorIs(t, rules.CheckApproval(course), appErrors.ErrDocumentsIncomplete)

	course.Documents = models.DocumentList{
		{ID: "d1", Label: "photo", URL: "a", Status: models.DocumentStatusVerified},
		{ID: "d2", Label: "sign", URL: "b", Status: models.DocumentStatusPending},
	}
	err := rules.CheckApproval(course)
	require.ErrorIs(t, err, appErrors.ErrDocumentsIncomplete)
	assert.Contains(t, err.Error(), "sign (Pending)")

	course.Documents[1].Status = models.DocumentStatusVerified
	assert.NoError(t, rules.CheckApproval(course))

	strict := Rules{RequiredDocuments: []string{"marksheet"}}
	assert.ErrorIs(t, strict.CheckApproval(course), appErrors.ErrDocumentsIncomplete)
}

func TestDocumentReviewTransitions(t *testing.T) {
	for _, from := range models.AllDocumentStatuses {
		for _, to := range models.AllDocumentStatuses {
			course := paidCourse()
			course.Status = models.CourseStatusAppointmentBooked
			course.Documents = models.DocumentList{{ID: "d1", Label: "photo", URL: "k", Status: from}}

			doc, err := CheckDocumentReview(course, "d1", to)
			legal := from == models.DocumentStatusPending && to != models.DocumentStatusPending
			if legal {
				require.NoError(t, err, "%s -> %s", from, to)
				ApplyDocumentReview(doc, to, "staff-1", now)
				assert.Equal(t, to, course.Documents[0].Status)
				assert.Equal(t, "staff-1", course.Documents[0].ReviewedBy)
				continue
			}
			assert.ErrorIs(t, err, appErrors.ErrInvalidTransition, "%s -> %s", from, to)
		}
	}
}

func TestDocumentReviewGuards(t *testing.T) {
	course := paidCourse()
	course.Status = models.CourseStatusVerified
	course.Documents = models.DocumentList{{ID: "d1", Label: "photo", URL: "k", Status: models.DocumentStatusPending}}
	_, err := CheckDocumentReview(course, "d1", models.DocumentStatusVerified)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	course.Status = models.CourseStatusAppointmentBooked
	_, err = CheckDocumentReview(course, "missing", models.DocumentStatusVerified)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	course.Documents[0].URL = ""
	_, err = CheckDocumentReview(course, "d1", models.DocumentStatusVerified)
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestUploadRules(t *testing.T) {
	course := paidCourse()
	course.PaymentStatus = models.PaymentStatusPending
	assert.ErrorIs(t, CheckUpload(course, "photo"), appErrors.ErrPaymentRequired)
	assert.False(t, CanAcceptUploads(course))

	course.PaymentStatus = models.PaymentStatusPaid
	require.NoError(t, CheckUpload(course, "photo"))
	assert.Empty(t, ApplyUpload(course, models.Document{Label: "photo", URL: "k/v1"}, now))

	course.Documents[0].Status = models.DocumentStatusRefillRequired
	require.NoError(t, CheckUpload(course, "photo"))
	old := ApplyUpload(course, models.Document{Label: "photo", URL: "k/v2"}, now.Add(time.Hour))
	assert.Equal(t, "k/v1", old)
	require.Len(t, course.Documents, 1)
	assert.Equal(t, models.DocumentStatusPending, course.Documents[0].Status)
	assert.Equal(t, "k/v2", course.Documents[0].URL)

	course.Documents[0].Status = models.DocumentStatusVerified
	assert.ErrorIs(t, CheckUpload(course, "photo"), appErrors.ErrInvalidTransition)

	course.Status = models.CourseStatusRejected
	assert.ErrorIs(t, CheckUpload(course, "other"), appErrors.ErrInvalidTransition)
}

func TestCheckPayment(t *testing.T) {
	course := paidCourse()
	course.PaymentStatus = models.PaymentStatusPending

	changed, err := CheckPayment(course, "pay_1")
	require.NoError(t, err)
	assert.True(t, changed)
	ApplyPayment(course, "pay_1", now)

	changed, err = CheckPayment(course, "pay_1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = CheckPayment(course, "pay_2")
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = CheckPayment(course, " ")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
