package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CourseStatus is the review state of an applied course.
type CourseStatus string

const (
	CourseStatusPending           CourseStatus = "Pending"
	CourseStatusAppointmentBooked CourseStatus = "Appointment Booked"
	CourseStatusVerified          CourseStatus = "Verified"
	CourseStatusRejected          CourseStatus = "Rejected"
	CourseStatusRefillRequired    CourseStatus = "Refill Required"
)

// AllCourseStatuses lists every course status.
var AllCourseStatuses = []CourseStatus{
	CourseStatusPending,
	CourseStatusAppointmentBooked,
	CourseStatusVerified,
	CourseStatusRejected,
	CourseStatusRefillRequired,
}

// ParseCourseStatus validates a course status name.
func ParseCourseStatus(raw string) (CourseStatus, error) {
	for _, s := range AllCourseStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown course status %q", raw)
}

// Terminal reports whether no further transition is defined from s.
func (s CourseStatus) Terminal() bool {
	return s == CourseStatusVerified || s == CourseStatusRejected
}

// PaymentStatus tracks whether the course fee has been settled.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusPaid    PaymentStatus = "Paid"
)

// DocumentStatus is the verification state of one uploaded document.
type DocumentStatus string

const (
	DocumentStatusPending        DocumentStatus = "Pending"
	DocumentStatusVerified       DocumentStatus = "Verified"
	DocumentStatusRejected       DocumentStatus = "Rejected"
	DocumentStatusRefillRequired DocumentStatus = "Refill Required"
)

// AllDocumentStatuses lists every document status.
var AllDocumentStatuses = []DocumentStatus{
	DocumentStatusPending,
	DocumentStatusVerified,
	DocumentStatusRejected,
	DocumentStatusRefillRequired,
}

// ParseDocumentStatus validates a document status name.
func ParseDocumentStatus(raw string) (DocumentStatus, error) {
	for _, s := range AllDocumentStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown document status %q", raw)
}

// Document is one upload attached to an applied course. URL is the blob storage key.
type Document struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Name        string         `json:"name,omitempty"`
	URL         string         `json:"url"`
	ContentType string         `json:"content_type,omitempty"`
	SizeBytes   int64          `json:"size_bytes,omitempty"`
	Status      DocumentStatus `json:"status"`
	UploadedAt  *time.Time     `json:"uploaded_at,omitempty"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
}

// DocumentList is stored as a single JSONB array per course.
type DocumentList []Document

// Find returns the document with id, or nil.
func (l DocumentList) Find(id string) *Document {
	for i := range l {
		if l[i].ID == id {
			return &l[i]
		}
	}
	return nil
}

// FindLabel returns the document carrying label, or nil.
func (l DocumentList) FindLabel(label string) *Document {
	for i := range l {
		if l[i].Label == label {
			return &l[i]
		}
	}
	return nil
}

// Clone returns an independent copy.
func (l DocumentList) Clone() DocumentList {
	if l == nil {
		return nil
	}
	out := make(DocumentList, len(l))
	for i, d := range l {
		out[i] = d
		out[i].UploadedAt = cloneTime(d.UploadedAt)
		out[i].ReviewedAt = cloneTime(d.ReviewedAt)
	}
	return out
}

// Value implements driver.Valuer for JSONB columns.
func (l DocumentList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB columns.
func (l *DocumentList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// AppliedCourse is one course application inside a candidate's aggregate.
// Revision is bumped on every write to the row and guards concurrent edits.
type AppliedCourse struct {
	ID               string        `db:"id" json:"id"`
	AccountID        string        `db:"account_id" json:"account_id"`
	ApplicationID    string        `db:"application_id" json:"application_id"`
	CourseType       string        `db:"course_type" json:"course_type"`
	CourseCategory   string        `db:"course_category" json:"course_category"`
	CourseYear       string        `db:"course_year" json:"course_year"`
	Amount           int64         `db:"amount" json:"amount"`
	Status           CourseStatus  `db:"status" json:"status"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentReference string        `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentOrderID   string        `db:"payment_order_id" json:"payment_order_id,omitempty"`
	AppointmentDate  string        `db:"appointment_date" json:"appointment_date,omitempty"`
	AppointmentSlot  string        `db:"appointment_slot" json:"appointment_slot,omitempty"`
	Documents        DocumentList  `db:"documents" json:"documents"`
	Position         int           `db:"position" json:"-"`
	Revision         int64         `db:"revision" json:"revision"`
	AppliedAt        time.Time     `db:"applied_at" json:"applied_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Clone deep-copies the course including its documents.
func (c *AppliedCourse) Clone() *AppliedCourse {
	if c == nil {
		return nil
	}
	out := *c
	out.Documents = c.Documents.Clone()
	return &out
}

// AppointmentKey renders the booked slot as "date/label", empty when none.
func (c *AppliedCourse) AppointmentKey() string {
	if c.AppointmentDate == "" {
		return ""
	}
	return SlotKey(c.AppointmentDate, c.AppointmentSlot)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
