package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/dto"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

// Profile operation names used in logs and metrics.
const (
	OpUpdateProfile = "update_profile"
	OpLockProfile   = "lock_profile"
	OpUnlockProfile = "unlock_profile"
)

// ProfileService manages the candidate's multi-section profile and its lock.
type ProfileService struct {
	gate    authorizer
	guard   *ConcurrencyGuard
	audit   auditLogger
	metrics *MetricsService
	logger  *zap.Logger
}

// NewProfileService constructs the profile service.
func NewProfileService(gate authorizer, guard *ConcurrencyGuard, audit auditLogger, metrics *MetricsService, logger *zap.Logger) *ProfileService {
	if gate == nil {
		gate = access.NewGate(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{gate: gate, guard: guard, audit: audit, metrics: metrics, logger: logger}
}

// Get returns the account aggregate with its applied courses.
func (s *ProfileService) Get(ctx context.Context, actor access.Actor, accountID string) (*models.Account, error) {
	if err := s.gate.Authorize(actor, access.ActionViewAccount, accountID); err != nil {
		return nil, err
	}
	return s.guard.Load(ctx, accountID)
}

// UpdateProfileSection replaces one section and recomputes the completion percentage.
func (s *ProfileService) UpdateProfileSection(ctx context.Context, actor access.Actor, accountID, section string, req dto.UpdateProfileSectionRequest) (account *models.Account, err error) {
	defer func() { s.metrics.RecordLifecycle(OpUpdateProfile, outcomeOf(err)) }()

	if err := s.gate.Authorize(actor, access.ActionUpdateProfile, accountID); err != nil {
		return nil, err
	}
	name, err := models.ParseProfileSection(strings.TrimSpace(section))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	data := bytes.TrimSpace(req.Data)
	var fields map[string]json.RawMessage
	if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &fields) != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("section %s must be a JSON object", name))
	}
	if len(fields) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("section %s must not be empty", name))
	}

	account, err = s.guard.UpdateProfile(ctx, OpUpdateProfile, accountID, func(account *models.Account) error {
		if account.ProfileLocked {
			return appErrors.Clone(appErrors.ErrProfileLocked, "profile is locked; unlock it to make changes")
		}
		if account.Profile == nil {
			account.Profile = models.ProfileSections{}
		}
		account.Profile[name] = append(json.RawMessage(nil), data...)
		account.ProfileCompletion = account.Profile.Completion()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, actor, models.AuditActionProfileUpdate, accountID, map[string]interface{}{
		"section":    name,
		"completion": account.ProfileCompletion,
	})
	return account, nil
}

// LockProfile freezes the profile after the declaration is accepted and every section
// is present. Locking a locked profile succeeds without changes.
func (s *ProfileService) LockProfile(ctx context.Context, actor access.Actor, accountID string, req dto.LockProfileRequest) (account *models.Account, err error) {
	defer func() { s.metrics.RecordLifecycle(OpLockProfile, outcomeOf(err)) }()

	if err := s.gate.Authorize(actor, access.ActionLockProfile, accountID); err != nil {
		return nil, err
	}

	changed := false
	account, err = s.guard.UpdateProfile(ctx, OpLockProfile, accountID, func(account *models.Account) error {
		if account.ProfileLocked {
			return errNoChange
		}
		if !req.Declaration {
			return appErrors.Clone(appErrors.ErrDeclarationRequired, "the declaration must be accepted before locking the profile")
		}
		if missing := account.Profile.Missing(); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, m := range missing {
				names[i] = string(m)
			}
			return appErrors.Clone(appErrors.ErrProfileIncomplete, "profile sections missing: "+strings.Join(names, ", "))
		}
		account.ProfileLocked = true
		account.DeclarationAccepted = true
		account.ProfileCompletion = account.Profile.Completion()
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("profile locked", zap.String("account_id", accountID))
		s.emitAudit(ctx, actor, models.AuditActionProfileLock, accountID, map[string]interface{}{"profile_locked": true})
	}
	return account, nil
}

// UnlockProfile reopens the profile for edits. A later lock needs a fresh declaration.
func (s *ProfileService) UnlockProfile(ctx context.Context, actor access.Actor, accountID string) (account *models.Account, err error) {
	defer func() { s.metrics.RecordLifecycle(OpUnlockProfile, outcomeOf(err)) }()

	if err := s.gate.Authorize(actor, access.ActionUnlockProfile, accountID); err != nil {
		return nil, err
	}

	changed := false
	account, err = s.guard.UpdateProfile(ctx, OpUnlockProfile, accountID, func(account *models.Account) error {
		if !account.ProfileLocked {
			return errNoChange
		}
		account.ProfileLocked = false
		account.DeclarationAccepted = false
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("profile unlocked", zap.String("account_id", accountID))
		s.emitAudit(ctx, actor, models.AuditActionProfileUnlock, accountID, map[string]interface{}{"profile_locked": false})
	}
	return account, nil
}

func (s *ProfileService) emitAudit(ctx context.Context, actor access.Actor, action, accountID string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	userID := actor.AccountID
	resourceID := accountID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   models.AuditResourceAccount,
		ResourceID: &resourceID,
		NewValues:  marshalAudit(values),
		IPAddress:  "system",
		UserAgent:  "profile-service",
	}); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}
