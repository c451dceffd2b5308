package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/export"
)

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// Receipt is a rendered payment receipt.
type Receipt struct {
	FileName string
	Content  []byte
}

// ReceiptService renders payment receipts for paid applications.
type ReceiptService struct {
	guard    *ConcurrencyGuard
	gate     authorizer
	renderer pdfRenderer
	currency string
	logger   *zap.Logger
}

// NewReceiptService constructs the receipt service.
func NewReceiptService(guard *ConcurrencyGuard, gate authorizer, renderer pdfRenderer, currency string, logger *zap.Logger) *ReceiptService {
	if gate == nil {
		gate = access.NewGate(nil)
	}
	if renderer == nil {
		renderer = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptService{guard: guard, gate: gate, renderer: renderer, currency: currency, logger: logger}
}

// Render builds the receipt PDF for one paid course.
func (s *ReceiptService) Render(ctx context.Context, actor access.Actor, accountID, courseID string) (*Receipt, error) {
	if err := s.gate.Authorize(actor, access.ActionViewReceipt, accountID); err != nil {
		return nil, err
	}
	account, err := s.guard.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	course := account.Course(courseID)
	if course == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("application %s not found", courseID))
	}
	if course.PaymentStatus != models.PaymentStatusPaid {
		return nil, appErrors.Clone(appErrors.ErrPaymentRequired, fmt.Sprintf("application %s has not been paid", course.ApplicationID))
	}

	content, err := s.renderer.Render(export.Document{
		Title:    "Payment Receipt",
		Subtitle: course.ApplicationID,
		Fields: []export.Field{
			{Label: "Candidate", Value: account.FullName},
			{Label: "Profile ID", Value: account.ProfileID},
			{Label: "Application ID", Value: course.ApplicationID},
			{Label: "Course", Value: strings.TrimSpace(course.CourseType + " " + course.CourseCategory)},
			{Label: "Year", Value: course.CourseYear},
			{Label: "Amount", Value: formatMinor(course.Amount, s.currency)},
			{Label: "Payment Reference", Value: course.PaymentReference},
			{Label: "Status", Value: string(course.Status)},
		},
		Footer: "Generated " + course.UpdatedAt.Format("2006-01-02 15:04 MST"),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	name := strings.NewReplacer("/", "-", " ", "_").Replace(course.ApplicationID)
	return &Receipt{FileName: "receipt-" + name + ".pdf", Content: content}, nil
}

func formatMinor(amount int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}
