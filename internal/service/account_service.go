package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

type staffRepository interface {
	Create(ctx context.Context, account *models.Account) error
	ReadAggregate(ctx context.Context, accountID string) (*models.Account, error)
	UpdatePermissions(ctx context.Context, accountID string, expectedVersion int64, perms models.PermissionSet) error
}

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

// AccountService handles admin-only staff provisioning and the audit trail.
type AccountService struct {
	repo     staffRepository
	gate     authorizer
	audit    auditLogger
	trail    auditReader
	cache    permissionCache
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAccountService constructs the account service. cache and trail may be nil.
func NewAccountService(repo staffRepository, gate authorizer, audit auditLogger, trail auditReader, cache permissionCache, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if gate == nil {
		gate = access.NewGate(nil)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{repo: repo, gate: gate, audit: audit, trail: trail, cache: cache, validate: validate, logger: logger}
}

// CreateStaff provisions a staff account with an explicit capability map.
func (s *AccountService) CreateStaff(ctx context.Context, actor access.Actor, req dto.CreateStaffRequest) (*models.Account, error) {
	if err := s.gate.Authorize(actor, access.ActionCreateStaff, ""); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid staff payload")
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleStaff,
		Permissions:  perms,
		Profile:      models.ProfileSections{},
		Active:       true,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an account with this email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to create staff account")
	}

	s.emitAudit(ctx, actor, models.AuditActionStaffCreate, account.ID, map[string]interface{}{"permissions": perms})
	s.logger.Info("staff account created", zap.String("account_id", account.ID), zap.String("actor_id", actor.AccountID))
	return account, nil
}

// UpdatePermissions replaces a staff account's capability map and drops its cached copy.
func (s *AccountService) UpdatePermissions(ctx context.Context, actor access.Actor, staffID string, req dto.UpdatePermissionsRequest) (*models.Account, error) {
	if err := s.gate.Authorize(actor, access.ActionUpdatePermissions, staffID); err != nil {
		return nil, err
	}
	perms, err := parsePermissions(req.Permissions)
	if err != nil {
		return nil, err
	}

	account, err := s.repo.ReadAggregate(ctx, staffID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "staff account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load staff account")
	}
	if account.Role != models.RoleStaff {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("account %s is a %s; only staff carry permissions", staffID, account.Role))
	}
	old := account.Permissions.Clone()
	if err := s.repo.UpdatePermissions(ctx, staffID, account.Version, perms); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "staff account was modified concurrently; reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to update permissions")
	}
	account.Permissions = perms
	account.Version++

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, permissionCacheKey(staffID)); err != nil {
			s.logger.Warn("failed to invalidate permission cache", zap.String("account_id", staffID), zap.Error(err))
		}
	}
	if s.audit != nil {
		userID := actor.AccountID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &userID,
			Action:     models.AuditActionPermissionsUpdate,
			Resource:   models.AuditResourceAccount,
			ResourceID: &staffID,
			OldValues:  marshalAudit(map[string]interface{}{"permissions": old}),
			NewValues:  marshalAudit(map[string]interface{}{"permissions": perms}),
			IPAddress:  "system",
			UserAgent:  "account-service",
		}); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return account, nil
}

// AuditTrail lists recent audit records.
func (s *AccountService) AuditTrail(ctx context.Context, actor access.Actor, filter models.AuditFilter) ([]models.AuditLog, error) {
	if err := s.gate.Authorize(actor, access.ActionListAuditLogs, ""); err != nil {
		return nil, err
	}
	if s.trail == nil {
		return []models.AuditLog{}, nil
	}
	logs, err := s.trail.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list audit logs")
	}
	return logs, nil
}

func (s *AccountService) emitAudit(ctx context.Context, actor access.Actor, action, accountID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	userID := actor.AccountID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   models.AuditResourceAccount,
		ResourceID: &accountID,
		NewValues:  marshalAudit(values),
		IPAddress:  "system",
		UserAgent:  "account-service",
	}); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func parsePermissions(raw map[string]bool) (models.PermissionSet, error) {
	perms := make(models.PermissionSet, len(raw))
	for name, granted := range raw {
		capability, err := models.ParseCapability(strings.TrimSpace(name))
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		perms[capability] = granted
	}
	return perms, nil
}
