package service

import (
	"context"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/export"
)

const exportPageSize = 200

type requestLister interface {
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.RequestRow, int, error)
	Summary(ctx context.Context) (*models.DashboardSummary, error)
}

type csvWriter interface {
	Write(w io.Writer, data export.Dataset) error
}

// RequestService serves the staff review queue.
type RequestService struct {
	repo     requestLister
	gate     authorizer
	exporter csvWriter
	logger   *zap.Logger
}

// NewRequestService constructs the request service.
func NewRequestService(repo requestLister, gate authorizer, exporter csvWriter, logger *zap.Logger) *RequestService {
	if gate == nil {
		gate = access.NewGate(nil)
	}
	if exporter == nil {
		exporter = export.NewCSVExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{repo: repo, gate: gate, exporter: exporter, logger: logger}
}

// List returns one page of review rows.
func (s *RequestService) List(ctx context.Context, actor access.Actor, query dto.RequestQuery) ([]models.RequestRow, *models.Pagination, error) {
	if err := s.gate.Authorize(actor, access.ActionListRequests, ""); err != nil {
		return nil, nil, err
	}
	filter, err := requestFilter(query)
	if err != nil {
		return nil, nil, err
	}
	rows, total, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list requests")
	}
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	switch {
	case size <= 0:
		size = 50
	case size > exportPageSize:
		size = exportPageSize
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Export writes every matching row as CSV.
func (s *RequestService) Export(ctx context.Context, actor access.Actor, query dto.RequestQuery, w io.Writer) error {
	if err := s.gate.Authorize(actor, access.ActionExportRequests, ""); err != nil {
		return err
	}
	filter, err := requestFilter(query)
	if err != nil {
		return err
	}

	data := export.Dataset{Headers: []string{
		"Profile ID", "Candidate", "Email", "Application ID", "Course", "Category",
		"Status", "Payment", "Appointment", "Documents", "Updated At",
	}}
	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.repo.ListRequests(ctx, filter)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list requests")
		}
		for _, row := range rows {
			appointment := ""
			if row.AppointmentDate != "" {
				appointment = models.SlotKey(row.AppointmentDate, row.AppointmentSlot)
			}
			data.Rows = append(data.Rows, []string{
				row.ProfileID, row.CandidateName, row.Email, row.ApplicationID, row.CourseType, row.CourseCategory,
				string(row.Status), string(row.PaymentStatus), appointment, strconv.Itoa(row.DocumentCount),
				row.UpdatedAt.Format("2006-01-02 15:04"),
			})
		}
		if len(rows) == 0 || page*exportPageSize >= total {
			break
		}
	}

	if err := s.exporter.Write(w, data); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write export")
	}
	s.logger.Info("requests exported", zap.String("actor_id", actor.AccountID), zap.Int("rows", len(data.Rows)))
	return nil
}

// Summary returns the dashboard counters.
func (s *RequestService) Summary(ctx context.Context, actor access.Actor) (*models.DashboardSummary, error) {
	if err := s.gate.Authorize(actor, access.ActionViewDashboard, ""); err != nil {
		return nil, err
	}
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load dashboard")
	}
	return summary, nil
}

func requestFilter(query dto.RequestQuery) (models.RequestFilter, error) {
	filter := models.RequestFilter{
		Search:   strings.TrimSpace(query.Search),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, err := models.ParseCourseStatus(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		filter.Status = &status
	}
	return filter, nil
}
