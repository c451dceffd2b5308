package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

type accountReader interface {
	ReadAggregate(ctx context.Context, accountID string) (*models.Account, error)
}

type permissionCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type cachedPermissions struct {
	Role        models.Role          `json:"role"`
	Active      bool                 `json:"active"`
	Permissions models.PermissionSet `json:"permissions"`
}

func permissionCacheKey(accountID string) string {
	return "permissions:" + accountID
}

// IdentityService turns verified token claims into an access.Actor. Staff permission
// sets are read from the store and cached; admins and candidates need no lookup.
type IdentityService struct {
	accounts accountReader
	cache    permissionCache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewIdentityService constructs the identity resolver. cache may be nil.
func NewIdentityService(accounts accountReader, cache permissionCache, ttl time.Duration, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{accounts: accounts, cache: cache, ttl: ttl, logger: logger}
}

// Resolve builds the actor for claims.
func (s *IdentityService) Resolve(ctx context.Context, claims *models.JWTClaims) (access.Actor, error) {
	if claims == nil || claims.AccountID == "" || !claims.Role.Valid() {
		return access.Actor{}, appErrors.ErrUnauthorized
	}
	actor := access.Actor{AccountID: claims.AccountID, Role: claims.Role}
	if claims.Role != models.RoleStaff {
		return actor, nil
	}

	entry, err := s.staffPermissions(ctx, claims.AccountID)
	if err != nil {
		return access.Actor{}, err
	}
	if !entry.Active {
		return access.Actor{}, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	actor.Role = entry.Role
	actor.Permissions = entry.Permissions
	return actor, nil
}

func (s *IdentityService) staffPermissions(ctx context.Context, accountID string) (*cachedPermissions, error) {
	key := permissionCacheKey(accountID)
	if s.cache != nil {
		var entry cachedPermissions
		if hit, err := s.cache.Get(ctx, key, &entry); err == nil && hit {
			return &entry, nil
		}
	}

	account, err := s.accounts.ReadAggregate(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load permissions")
	}
	entry := &cachedPermissions{Role: account.Role, Active: account.Active, Permissions: account.Permissions.Clone()}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, entry, s.ttl); err != nil {
			s.logger.Debug("permission cache write skipped", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return entry, nil
}
