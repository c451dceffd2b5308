package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

type failingAccountRepo struct {
	err error
}

func (r failingAccountRepo) FindByEmail(context.Context, string) (*models.Account, error) {
	return nil, r.err
}

func (r failingAccountRepo) Create(context.Context, *models.Account) error {
	return r.err
}

func newAuthFixture() (*AuthService, *repository.MemoryAccountStore, *repository.MemoryAuditStore) {
	store := repository.NewMemoryAccountStore()
	audit := repository.NewMemoryAuditStore()
	svc := NewAuthService(store, audit, nil, zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "admission-portal",
	})
	return svc, store, audit
}

func TestAuthRegisterAndLogin(t *testing.T) {
	svc, store, audit := newAuthFixture()
	ctx := context.Background()

	info, err := svc.Register(ctx, models.RegisterRequest{Email: "Asha@Example.com", Password: "password123", FullName: " Asha "})
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", info.Email)
	assert.Equal(t, "Asha", info.FullName)
	assert.Equal(t, models.RoleCandidate, info.Role)
	assert.Len(t, info.ProfileID, 12)
	assert.Regexp(t, `^\d{4}[0-9A-F]{8}$`, info.ProfileID)

	stored, err := store.FindByEmail(ctx, "asha@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", stored.PasswordHash)

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "asha@example.com", Password: "password123", FullName: "Again"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	resp, err := svc.Login(ctx, models.LoginRequest{Email: "asha@example.com", Password: "password123", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, info.ID, resp.Account.ID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, info.ID, claims.AccountID)
	assert.Equal(t, models.RoleCandidate, claims.Role)
	assert.Equal(t, "admission-portal", claims.Issuer)

	logs, err := audit.List(ctx, models.AuditFilter{})
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Contains(t, actions, models.AuditActionRegister)
	assert.Contains(t, actions, models.AuditActionLogin)
}

func TestAuthLoginFailures(t *testing.T) {
	svc, store, _ := newAuthFixture()
	ctx := context.Background()

	_, err := svc.Register(ctx, models.RegisterRequest{Email: "a@example.com", Password: "password123", FullName: "A"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "a@example.com", Password: "wrong-password"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials.Code))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "not-an-email", Password: "x"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	hash, err := hashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, &models.Account{Email: "off@example.com", PasswordHash: hash, Role: models.RoleStaff, Active: false}))
	_, err = svc.Login(ctx, models.LoginRequest{Email: "off@example.com", Password: "password123"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInactiveAccount.Code))

	broken := NewAuthService(failingAccountRepo{err: errors.New("db down")}, nil, nil, nil, AuthConfig{AccessTokenSecret: "secret"})
	_, err = broken.Login(ctx, models.LoginRequest{Email: "a@example.com", Password: "password123"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStoreUnavailable.Code))
	_, err = broken.Register(ctx, models.RegisterRequest{Email: "b@example.com", Password: "password123", FullName: "B"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStoreUnavailable.Code))
}

func TestAuthValidateTokenRejectsForgeries(t *testing.T) {
	svc, _, _ := newAuthFixture()

	_, err := svc.ValidateToken("not-a-token")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))

	claims := &models.JWTClaims{
		AccountID: "acc-1",
		Role:      models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))

	claims.Role = "superuser"
	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(badRole)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))

	claims.Role = models.RoleAdmin
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthEnsureAdmin(t *testing.T) {
	svc, store, _ := newAuthFixture()
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "Root@Example.com", "password123", "Root")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, created.Role)

	again, err := svc.EnsureAdmin(ctx, "root@example.com", "password123", "Root")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	resp, err := svc.Login(ctx, models.LoginRequest{Email: "root@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.Account.Role)

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "cand@example.com", Password: "password123", FullName: "C"})
	require.NoError(t, err)
	_, err = svc.EnsureAdmin(ctx, "cand@example.com", "password123", "C")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))

	_, err = svc.EnsureAdmin(ctx, "", "short", "")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	stored, err := store.FindByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.True(t, stored.Active)
}
