package models

import "time"

// Audit actions written by the lifecycle and account services.
const (
	AuditActionLogin             = "LOGIN"
	AuditActionRegister          = "REGISTER"
	AuditActionApply             = "COURSE_APPLY"
	AuditActionPaymentOrder      = "PAYMENT_ORDER"
	AuditActionPaymentRecord     = "PAYMENT_RECORD"
	AuditActionAppointmentBook   = "APPOINTMENT_BOOK"
	AuditActionDocumentUpload    = "DOCUMENT_UPLOAD"
	AuditActionCourseStatus      = "COURSE_STATUS_UPDATE"
	AuditActionDocumentStatus    = "DOCUMENT_STATUS_UPDATE"
	AuditActionApplicationDelete = "APPLICATION_DELETE"
	AuditActionProfileUpdate     = "PROFILE_UPDATE"
	AuditActionProfileLock       = "PROFILE_LOCK"
	AuditActionProfileUnlock     = "PROFILE_UNLOCK"
	AuditActionSlotPublish       = "SLOT_PUBLISH"
	AuditActionSlotUnpublish     = "SLOT_UNPUBLISH"
	AuditActionStaffCreate       = "STAFF_CREATE"
	AuditActionPermissionsUpdate = "PERMISSIONS_UPDATE"
	AuditActionRequestsExport    = "REQUESTS_EXPORT"
)

// Audit resources.
const (
	AuditResourceAccount = "account"
	AuditResourceCourse  = "applied_course"
	AuditResourceSlot    = "appointment_slot"
	AuditResourceRequest = "request_queue"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	Resource   string
	ResourceID string
	Limit      int
}
