// Package workflow holds the status rules for applied courses and their documents.
// Every function here is pure: callers pass freshly read state and persist the result.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

// Event is something that moves an applied course between statuses.
type Event string

const (
	EventBook          Event = "book"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
	EventRequestRefill Event = "request_refill"
)

var courseTransitions = map[models.CourseStatus]map[Event]models.CourseStatus{
	models.CourseStatusPending: {
		EventBook: models.CourseStatusAppointmentBooked,
	},
	models.CourseStatusAppointmentBooked: {
		EventApprove:       models.CourseStatusVerified,
		EventReject:        models.CourseStatusRejected,
		EventRequestRefill: models.CourseStatusRefillRequired,
	},
	models.CourseStatusRefillRequired: {
		EventBook: models.CourseStatusAppointmentBooked,
	},
}

var staffEvents = map[models.CourseStatus]Event{
	models.CourseStatusVerified:       EventApprove,
	models.CourseStatusRejected:       EventReject,
	models.CourseStatusRefillRequired: EventRequestRefill,
}

// Next returns the status reached by applying ev to from.
func Next(from models.CourseStatus, ev Event) (models.CourseStatus, error) {
	if from.Terminal() {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("course status %s is terminal", from))
	}
	to, ok := courseTransitions[from][ev]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s a course in status %s", strings.ReplaceAll(string(ev), "_", " "), from))
	}
	return to, nil
}

// StaffEvent maps a target status requested by staff to its event. Staff can only
// conclude a review; Pending and Appointment Booked are reached through candidate actions.
func StaffEvent(from, to models.CourseStatus) (Event, error) {
	if from == to {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("course is already %s", to))
	}
	ev, ok := staffEvents[to]
	if !ok {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("staff cannot move a course to %s", to))
	}
	if _, err := Next(from, ev); err != nil {
		return "", err
	}
	return ev, nil
}

// Allowed reports whether any event leads from one status to the other.
func Allowed(from, to models.CourseStatus) bool {
	for _, target := range courseTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Rules carries the configurable parts of the lifecycle guards.
type Rules struct {
	// RequiredDocuments are labels that must be uploaded before booking and verified before approval.
	RequiredDocuments []string
}

// Booking is a candidate's request to reserve a verification slot.
type Booking struct {
	Date          string
	Label         string
	SlotPublished bool
	Documents     []models.Document
}

// CheckBooking validates a booking against freshly read course state. Checks run in a fixed
// order so the first violated rule is the one reported.
func (r Rules) CheckBooking(course *models.AppliedCourse, b Booking) error {
	if _, err := Next(course.Status, EventBook); err != nil {
		return err
	}
	if course.PaymentStatus != models.PaymentStatusPaid {
		return appErrors.Clone(appErrors.ErrPaymentRequired, fmt.Sprintf("application %s has not been paid", course.ApplicationID))
	}
	if strings.TrimSpace(b.Date) == "" || strings.TrimSpace(b.Label) == "" {
		return appErrors.Clone(appErrors.ErrSlotRequired, "an appointment date and slot must be selected")
	}
	if !b.SlotPublished {
		return appErrors.Clone(appErrors.ErrSlotUnavailable, fmt.Sprintf("slot %s is not published", models.SlotKey(b.Date, b.Label)))
	}
	for _, doc := range b.Documents {
		if existing := course.Documents.FindLabel(doc.Label); existing != nil && !replaceable(existing.Status) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document %s is %s and cannot be replaced", doc.Label, existing.Status))
		}
	}
	if missing := r.missingForBooking(course, b.Documents); len(missing) > 0 {
		return appErrors.Clone(appErrors.ErrDocumentsMissing, "required documents missing: "+strings.Join(missing, ", "))
	}
	return nil
}

func (r Rules) missingForBooking(course *models.AppliedCourse, attached []models.Document) []string {
	var missing []string
	for _, label := range r.RequiredDocuments {
		if hasUpload(attached, label) {
			continue
		}
		doc := course.Documents.FindLabel(label)
		if doc == nil || doc.URL == "" || doc.Status == models.DocumentStatusRefillRequired {
			missing = append(missing, label)
		}
	}
	return missing
}

func hasUpload(docs []models.Document, label string) bool {
	for _, d := range docs {
		if d.Label == label && d.URL != "" {
			return true
		}
	}
	return false
}

// ApplyBooking moves the course to Appointment Booked. When re-booking after a refill
// request, documents flagged Refill Required go back to awaiting upload. It returns the
// blob keys that are no longer referenced.
func ApplyBooking(course *models.AppliedCourse, b Booking, now time.Time) []string {
	var released []string
	if course.Status == models.CourseStatusRefillRequired {
		for i := range course.Documents {
			doc := &course.Documents[i]
			if doc.Status != models.DocumentStatusRefillRequired {
				continue
			}
			if doc.URL != "" {
				released = append(released, doc.URL)
			}
			resetDocument(doc)
		}
	}

	for _, incoming := range b.Documents {
		if old := attach(course, incoming, now); old != "" {
			released = append(released, old)
		}
	}

	course.Status = models.CourseStatusAppointmentBooked
	course.AppointmentDate = b.Date
	course.AppointmentSlot = b.Label
	course.UpdatedAt = now
	return released
}

// ApplyStaffDecision sets the target status after approval checks have passed.
func ApplyStaffDecision(course *models.AppliedCourse, to models.CourseStatus, now time.Time) {
	course.Status = to
	course.UpdatedAt = now
}

// CheckApproval requires every document to be verified and every required label to be present.
func (r Rules) CheckApproval(course *models.AppliedCourse) error {
	if len(course.Documents) == 0 {
		return appErrors.Clone(appErrors.ErrDocumentsIncomplete, fmt.Sprintf("application %s has no documents to verify", course.ApplicationID))
	}
	var pending []string
	for _, doc := range course.Documents {
		if doc.Status != models.DocumentStatusVerified {
			pending = append(pending, fmt.Sprintf("%s (%s)", doc.Label, doc.Status))
		}
	}
	for _, label := range r.RequiredDocuments {
		if course.Documents.FindLabel(label) == nil {
			pending = append(pending, label+" (missing)")
		}
	}
	if len(pending) > 0 {
		return appErrors.Clone(appErrors.ErrDocumentsIncomplete, "documents not verified: "+strings.Join(pending, ", "))
	}
	return nil
}

// CheckPayment reports whether recording reference would change anything. A second
// callback with the same reference is a no-op; a different reference is rejected.
func CheckPayment(course *models.AppliedCourse, reference string) (changed bool, err error) {
	if strings.TrimSpace(reference) == "" {
		return false, appErrors.Clone(appErrors.ErrValidation, "payment reference is required")
	}
	if course.PaymentStatus == models.PaymentStatusPaid {
		if course.PaymentReference == reference {
			return false, nil
		}
		return false, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("application %s is already paid", course.ApplicationID))
	}
	if course.Status.Terminal() {
		return false, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("course status %s is terminal", course.Status))
	}
	return true, nil
}

// ApplyPayment marks the course as paid.
func ApplyPayment(course *models.AppliedCourse, reference string, now time.Time) {
	course.PaymentStatus = models.PaymentStatusPaid
	course.PaymentReference = reference
	course.UpdatedAt = now
}
