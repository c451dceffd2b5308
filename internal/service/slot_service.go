package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

type slotStore interface {
	Upsert(ctx context.Context, slot *models.AppointmentSlot) error
	List(ctx context.Context, from string, publishedOnly bool) ([]models.AppointmentSlot, error)
}

// SlotService maintains the catalogue of bookable appointment slots.
type SlotService struct {
	repo     slotStore
	gate     authorizer
	audit    auditLogger
	validate *validator.Validate
	logger   *zap.Logger
}

// NewSlotService constructs the slot service.
func NewSlotService(repo slotStore, gate authorizer, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *SlotService {
	if gate == nil {
		gate = access.NewGate(nil)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotService{repo: repo, gate: gate, audit: audit, validate: validate, logger: logger}
}

// Publish makes a slot bookable.
func (s *SlotService) Publish(ctx context.Context, actor access.Actor, req dto.SlotRequest) (*models.AppointmentSlot, error) {
	return s.set(ctx, actor, access.ActionPublishSlot, req, true)
}

// Unpublish withdraws a slot. Existing bookings are kept.
func (s *SlotService) Unpublish(ctx context.Context, actor access.Actor, req dto.SlotRequest) (*models.AppointmentSlot, error) {
	return s.set(ctx, actor, access.ActionUnpublishSlot, req, false)
}

// List returns slots on or after query.From. Only staff holding settings see unpublished slots.
func (s *SlotService) List(ctx context.Context, actor access.Actor, query dto.SlotQuery) ([]models.AppointmentSlot, error) {
	if err := s.gate.Authorize(actor, access.ActionListSlots, ""); err != nil {
		return nil, err
	}
	if query.From != "" {
		if _, err := time.Parse(models.SlotDateLayout, query.From); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("from must be a %s date", models.SlotDateLayout))
		}
	}
	publishedOnly := query.PublishedOnly || !actor.Can(models.CapabilitySettings)
	slots, err := s.repo.List(ctx, query.From, publishedOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list slots")
	}
	return slots, nil
}

func (s *SlotService) set(ctx context.Context, actor access.Actor, action access.Action, req dto.SlotRequest, published bool) (*models.AppointmentSlot, error) {
	if err := s.gate.Authorize(actor, action, ""); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	date, label, err := models.ParseSlotKey(models.SlotKey(strings.TrimSpace(req.Date), req.Label))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if strings.Contains(label, "/") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot label must not contain '/'")
	}

	slot := &models.AppointmentSlot{Date: date, Label: label, Published: published, UpdatedBy: actor.AccountID}
	if err := s.repo.Upsert(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to save slot")
	}

	auditAction := models.AuditActionSlotPublish
	if !published {
		auditAction = models.AuditActionSlotUnpublish
	}
	if s.audit != nil {
		userID := actor.AccountID
		key := slot.Key()
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &userID,
			Action:     auditAction,
			Resource:   models.AuditResourceSlot,
			ResourceID: &key,
			NewValues:  marshalAudit(map[string]interface{}{"published": published}),
			IPAddress:  "system",
			UserAgent:  "slot-service",
		}); err != nil {
			s.logger.Warn("failed to persist audit log", zap.String("action", auditAction), zap.Error(err))
		}
	}
	s.logger.Info("slot updated", zap.String("slot", slot.Key()), zap.Bool("published", published))
	return slot, nil
}
