package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

var documentReviews = map[models.DocumentStatus]bool{
	models.DocumentStatusVerified:       true,
	models.DocumentStatusRejected:       true,
	models.DocumentStatusRefillRequired: true,
}

// CheckUpload validates that the course may take a new or replacement document.
func CheckUpload(course *models.AppliedCourse, label string) error {
	if course.PaymentStatus != models.PaymentStatusPaid {
		return appErrors.Clone(appErrors.ErrPaymentRequired, fmt.Sprintf("application %s must be paid before uploading documents", course.ApplicationID))
	}
	if course.Status.Terminal() {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("course status %s is terminal; documents are frozen", course.Status))
	}
	if existing := course.Documents.FindLabel(label); existing != nil && !replaceable(existing.Status) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document %s is %s and cannot be replaced", label, existing.Status))
	}
	return nil
}

// ApplyUpload adds doc or replaces the document with the same label. The stored copy
// always restarts at Pending. It returns the replaced blob key, if any.
func ApplyUpload(course *models.AppliedCourse, doc models.Document, now time.Time) string {
	old := attach(course, doc, now)
	course.UpdatedAt = now
	return old
}

// CheckDocumentReview validates a staff decision on one document.
func CheckDocumentReview(course *models.AppliedCourse, documentID string, to models.DocumentStatus) (*models.Document, error) {
	if course.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("course status %s is terminal; documents are frozen", course.Status))
	}
	doc := course.Documents.Find(documentID)
	if doc == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("document %s not found", documentID))
	}
	if doc.Status == to {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document %s is already %s", doc.Label, to))
	}
	if doc.Status != models.DocumentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document %s is %s; only pending documents can be reviewed", doc.Label, doc.Status))
	}
	if !documentReviews[to] {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("staff cannot move a document to %s", to))
	}
	if doc.URL == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("document %s is awaiting upload", doc.Label))
	}
	return doc, nil
}

// ApplyDocumentReview records the decision on doc.
func ApplyDocumentReview(doc *models.Document, to models.DocumentStatus, reviewer string, now time.Time) {
	reviewedAt := now
	doc.Status = to
	doc.ReviewedBy = reviewer
	doc.ReviewedAt = &reviewedAt
}

// CanAcceptUploads reports whether CheckUpload would pass for a new label.
func CanAcceptUploads(course *models.AppliedCourse) bool {
	return course.PaymentStatus == models.PaymentStatusPaid && !course.Status.Terminal()
}

func replaceable(status models.DocumentStatus) bool {
	return status == models.DocumentStatusPending || status == models.DocumentStatusRefillRequired
}

func attach(course *models.AppliedCourse, incoming models.Document, now time.Time) string {
	uploadedAt := now
	incoming.Status = models.DocumentStatusPending
	incoming.UploadedAt = &uploadedAt
	incoming.ReviewedBy = ""
	incoming.ReviewedAt = nil

	if existing := course.Documents.FindLabel(incoming.Label); existing != nil {
		old := existing.URL
		incoming.ID = existing.ID
		*existing = incoming
		if old == incoming.URL {
			return ""
		}
		return old
	}
	if incoming.ID == "" {
		incoming.ID = uuid.NewString()
	}
	course.Documents = append(course.Documents, incoming)
	return ""
}

func resetDocument(doc *models.Document) {
	doc.Status = models.DocumentStatusPending
	doc.URL = ""
	doc.Name = ""
	doc.ContentType = ""
	doc.SizeBytes = 0
	doc.UploadedAt = nil
	doc.ReviewedBy = ""
	doc.ReviewedAt = nil
}
