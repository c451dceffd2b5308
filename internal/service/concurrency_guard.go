package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
)

// aggregateStore is the conditional-write contract of the account store. Every write
// names the version it was computed from and fails with repository.ErrVersionConflict
// when the stored row has moved on.
type aggregateStore interface {
	ReadAggregate(ctx context.Context, accountID string) (*models.Account, error)
	AppendCourse(ctx context.Context, accountID string, expectedCoursesVersion int64, course *models.AppliedCourse) error
	RemoveCourse(ctx context.Context, accountID string, expectedCoursesVersion int64, courseID string) error
	WriteCourse(ctx context.Context, course *models.AppliedCourse, expectedRevision int64) error
	WriteDocuments(ctx context.Context, accountID, courseID string, expectedRevision int64, docs models.DocumentList) error
	WriteProfile(ctx context.Context, account *models.Account, expectedVersion int64) error
}

// errNoChange lets a mutation report that fresh state already satisfies the request.
var errNoChange = errors.New("no change")

// CourseMutation edits a freshly read copy of one course. account is read-only context.
type CourseMutation func(account *models.Account, course *models.AppliedCourse) error

// GuardConfig bounds the retry loop.
type GuardConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// ConcurrencyGuard runs every aggregate mutation as re-read, mutate a private copy,
// conditional write. Conflicts and store errors are retried from a fresh read; rule
// violations returned by the mutation are never retried.
type ConcurrencyGuard struct {
	store   aggregateStore
	cfg     GuardConfig
	logger  *zap.Logger
	metrics *MetricsService
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewConcurrencyGuard constructs a guard over store.
func NewConcurrencyGuard(store aggregateStore, cfg GuardConfig, metrics *MetricsService, logger *zap.Logger) *ConcurrencyGuard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConcurrencyGuard{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepContext,
	}
}

// Load reads the aggregate with store errors mapped to domain errors.
func (g *ConcurrencyGuard) Load(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := g.store.ReadAggregate(ctx, accountID)
	if err != nil {
		mapped, _ := g.classify(err)
		return nil, mapped
	}
	return account, nil
}

// UpdateCourse applies mutate to one course and writes the whole course row back.
func (g *ConcurrencyGuard) UpdateCourse(ctx context.Context, op, accountID, courseID string, mutate CourseMutation) (*models.AppliedCourse, error) {
	var result *models.AppliedCourse
	err := g.run(ctx, op, func() error {
		account, course, err := g.readCourse(ctx, accountID, courseID)
		if err != nil {
			return err
		}
		expected := course.Revision
		if err := mutate(account, course); err != nil {
			if errors.Is(err, errNoChange) {
				result = course
				return nil
			}
			return err
		}
		if err := g.store.WriteCourse(ctx, course, expected); err != nil {
			return err
		}
		result = course
		return nil
	})
	return result, err
}

// UpdateDocuments applies mutate to one course but persists only its documents array.
// Changes mutate makes to other course fields are discarded.
func (g *ConcurrencyGuard) UpdateDocuments(ctx context.Context, op, accountID, courseID string, mutate CourseMutation) (*models.AppliedCourse, error) {
	var result *models.AppliedCourse
	err := g.run(ctx, op, func() error {
		account, course, err := g.readCourse(ctx, accountID, courseID)
		if err != nil {
			return err
		}
		expected := course.Revision
		working := course.Clone()
		if err := mutate(account, working); err != nil {
			if errors.Is(err, errNoChange) {
				result = course
				return nil
			}
			return err
		}
		if err := g.store.WriteDocuments(ctx, accountID, courseID, expected, working.Documents); err != nil {
			return err
		}
		course.Documents = working.Documents
		course.Revision = expected + 1
		course.UpdatedAt = g.now()
		result = course
		return nil
	})
	return result, err
}

// AppendCourse builds a new course from the fresh aggregate and appends it if the
// course list has not changed since the read.
func (g *ConcurrencyGuard) AppendCourse(ctx context.Context, op, accountID string, build func(account *models.Account) (*models.AppliedCourse, error)) (*models.AppliedCourse, error) {
	var result *models.AppliedCourse
	err := g.run(ctx, op, func() error {
		account, err := g.store.ReadAggregate(ctx, accountID)
		if err != nil {
			return err
		}
		course, err := build(account)
		if err != nil {
			return err
		}
		if err := g.store.AppendCourse(ctx, accountID, account.CoursesVersion, course); err != nil {
			return err
		}
		result = course
		return nil
	})
	return result, err
}

// RemoveCourse deletes one course after check approves the fresh copy. It returns the removed course.
func (g *ConcurrencyGuard) RemoveCourse(ctx context.Context, op, accountID, courseID string, check CourseMutation) (*models.AppliedCourse, error) {
	var removed *models.AppliedCourse
	err := g.run(ctx, op, func() error {
		account, course, err := g.readCourse(ctx, accountID, courseID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(account, course); err != nil {
				return err
			}
		}
		if err := g.store.RemoveCourse(ctx, accountID, account.CoursesVersion, courseID); err != nil {
			return err
		}
		removed = course
		return nil
	})
	return removed, err
}

// UpdateProfile applies mutate to the account's profile fields.
func (g *ConcurrencyGuard) UpdateProfile(ctx context.Context, op, accountID string, mutate func(account *models.Account) error) (*models.Account, error) {
	var result *models.Account
	err := g.run(ctx, op, func() error {
		account, err := g.store.ReadAggregate(ctx, accountID)
		if err != nil {
			return err
		}
		expected := account.Version
		if err := mutate(account); err != nil {
			if errors.Is(err, errNoChange) {
				result = account
				return nil
			}
			return err
		}
		if err := g.store.WriteProfile(ctx, account, expected); err != nil {
			return err
		}
		result = account
		return nil
	})
	return result, err
}

func (g *ConcurrencyGuard) readCourse(ctx context.Context, accountID, courseID string) (*models.Account, *models.AppliedCourse, error) {
	account, err := g.store.ReadAggregate(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	course := account.Course(courseID)
	if course == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("application %s not found", courseID))
	}
	return account, course, nil
}

func (g *ConcurrencyGuard) run(ctx context.Context, op string, attempt func() error) error {
	start := time.Now()
	defer func() { g.metrics.ObserveGuard(op, time.Since(start)) }()

	var last error
	for i := 1; i <= g.cfg.MaxAttempts; i++ {
		err := attempt()
		if err == nil {
			return nil
		}
		mapped, retry := g.classify(err)
		if !retry {
			return mapped
		}
		last = mapped
		if i == g.cfg.MaxAttempts {
			break
		}
		g.metrics.RecordGuardRetry(op)
		g.logger.Warn("retrying guarded write",
			zap.String("operation", op),
			zap.Int("attempt", i),
			zap.Error(err),
		)
		if err := g.sleep(ctx, g.cfg.Backoff*time.Duration(i)); err != nil {
			return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "request cancelled while retrying")
		}
	}
	return last
}

// classify maps an attempt error to what the caller sees and whether a fresh attempt may help.
func (g *ConcurrencyGuard) classify(err error) (error, bool) {
	var appErr *appErrors.Error
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		return appErrors.Clone(appErrors.ErrConflict, "record was modified concurrently; re-read and retry"), true
	case errors.As(err, &appErr):
		return appErr, false
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "account not found"), false
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "record already exists"), false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "store request cancelled"), false
	default:
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, appErrors.ErrStoreUnavailable.Message), true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
