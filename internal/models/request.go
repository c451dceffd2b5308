package models

import "time"

// RequestRow is one applied course flattened for the staff review queue.
type RequestRow struct {
	AccountID       string        `db:"account_id" json:"account_id"`
	ProfileID       string        `db:"profile_id" json:"profile_id"`
	CandidateName   string        `db:"full_name" json:"candidate_name"`
	Email           string        `db:"email" json:"email"`
	CourseID        string        `db:"id" json:"course_id"`
	ApplicationID   string        `db:"application_id" json:"application_id"`
	CourseType      string        `db:"course_type" json:"course_type"`
	CourseCategory  string        `db:"course_category" json:"course_category"`
	Status          CourseStatus  `db:"status" json:"status"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"payment_status"`
	AppointmentDate string        `db:"appointment_date" json:"appointment_date,omitempty"`
	AppointmentSlot string        `db:"appointment_slot" json:"appointment_slot,omitempty"`
	DocumentCount   int           `db:"document_count" json:"document_count"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestFilter narrows the review queue.
type RequestFilter struct {
	Status   *CourseStatus
	Search   string
	Page     int
	PageSize int
}

// DashboardSummary holds the admin dashboard counters. Courses has an entry for
// every course status, zero when none match.
type DashboardSummary struct {
	Candidates int                  `db:"candidates" json:"candidates"`
	Staff      int                  `db:"staff" json:"staff"`
	Courses    map[CourseStatus]int `db:"-" json:"courses"`
}

// NewDashboardSummary returns a summary with every course status present.
func NewDashboardSummary() *DashboardSummary {
	summary := &DashboardSummary{Courses: make(map[CourseStatus]int, len(AllCourseStatuses))}
	for _, status := range AllCourseStatuses {
		summary.Courses[status] = 0
	}
	return summary
}
