package dto

import (
	"encoding/json"
	"io"
	"time"
)

// ApplyCourseRequest payload for filing a new course application.
type ApplyCourseRequest struct {
	CourseType     string `json:"courseType" validate:"required,max=80"`
	CourseCategory string `json:"courseCategory" validate:"required,max=80"`
	CourseYear     string `json:"courseYear" validate:"required,numeric,len=4"`
	IdempotencyKey string `json:"-"`
}

// PaymentOrderResponse is returned when a gateway order has been created.
type PaymentOrderResponse struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ApplicationID string `json:"applicationId"`
}

// RecordPaymentRequest is the gateway completion callback.
type RecordPaymentRequest struct {
	Reference string `json:"reference" validate:"required,max=120"`
	OrderID   string `json:"orderId" validate:"omitempty,max=120"`
}

// UploadInput is one document file handed to the service.
type UploadInput struct {
	Label       string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// BookAppointmentRequest selects a published slot, optionally attaching documents.
type BookAppointmentRequest struct {
	Slot      string        `json:"slot"`
	Documents []UploadInput `json:"-"`
}

// UpdateCourseStatusRequest carries a staff decision. ExpectedRevision, when set, must
// match the course revision the reviewer was looking at.
type UpdateCourseStatusRequest struct {
	Status           string `json:"status" validate:"required"`
	ExpectedRevision *int64 `json:"expectedRevision"`
}

// UpdateDocumentStatusRequest carries a staff decision on one document.
type UpdateDocumentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// DocumentLinkResponse is a short-lived download link.
type DocumentLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UpdateProfileSectionRequest replaces one profile section.
type UpdateProfileSectionRequest struct {
	Data json.RawMessage `json:"data" validate:"required"`
}

// LockProfileRequest carries the candidate's declaration.
type LockProfileRequest struct {
	Declaration bool `json:"declaration"`
}
