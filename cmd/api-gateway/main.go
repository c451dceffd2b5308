package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/admission-portal-api/api/swagger"
	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/repository"
	"github.com/noah-isme/admission-portal-api/internal/service"
	"github.com/noah-isme/admission-portal-api/internal/workflow"
	"github.com/noah-isme/admission-portal-api/pkg/cache"
	"github.com/noah-isme/admission-portal-api/pkg/config"
	"github.com/noah-isme/admission-portal-api/pkg/database"
	"github.com/noah-isme/admission-portal-api/pkg/export"
	"github.com/noah-isme/admission-portal-api/pkg/jobs"
	"github.com/noah-isme/admission-portal-api/pkg/logger"
	"github.com/noah-isme/admission-portal-api/pkg/middleware/ratelimit"
	"github.com/noah-isme/admission-portal-api/pkg/payment"
	"github.com/noah-isme/admission-portal-api/pkg/storage"
)

// @title Admission Portal API
// @version 1.0.0
// @description Application and document lifecycle for the admissions portal
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// accountStore is satisfied by both the Postgres and in-memory aggregate stores.
type accountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	ReadAggregate(ctx context.Context, accountID string) (*models.Account, error)
	AppendCourse(ctx context.Context, accountID string, expectedCoursesVersion int64, course *models.AppliedCourse) error
	RemoveCourse(ctx context.Context, accountID string, expectedCoursesVersion int64, courseID string) error
	WriteCourse(ctx context.Context, course *models.AppliedCourse, expectedRevision int64) error
	WriteDocuments(ctx context.Context, accountID, courseID string, expectedRevision int64, docs models.DocumentList) error
	WriteProfile(ctx context.Context, account *models.Account, expectedVersion int64) error
	UpdatePermissions(ctx context.Context, accountID string, expectedVersion int64, perms models.PermissionSet) error
	ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.RequestRow, int, error)
	Summary(ctx context.Context) (*models.DashboardSummary, error)
}

type slotCatalogue interface {
	Upsert(ctx context.Context, slot *models.AppointmentSlot) error
	IsPublished(ctx context.Context, date, label string) (bool, error)
	List(ctx context.Context, from string, publishedOnly bool) ([]models.AppointmentSlot, error)
}

type auditTrail interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)
}

type stores struct {
	accounts accountStore
	slots    slotCatalogue
	audit    auditTrail
	db       *sqlx.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to open stores", zap.Error(err))
	}
	if st.db != nil {
		defer st.db.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	app, err := buildApplication(cfg, logr, st, redisClient)
	if err != nil {
		logr.Fatal("failed to build services", zap.Error(err))
	}
	app.cleanup.Start(ctx)
	defer app.cleanup.Stop()
	go sweepLimiters(ctx, app)

	if cfg.Bootstrap.AdminEmail != "" {
		if _, err := app.auth.EnsureAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminName); err != nil {
			logr.Fatal("failed to bootstrap admin", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logr.Warn("using in-memory stores; data is lost on restart")
		return &stores{
			accounts: repository.NewMemoryAccountStore(),
			slots:    repository.NewMemorySlotStore(),
			audit:    repository.NewMemoryAuditStore(),
		}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Database.RunMigrations {
		if err := database.Migrate(db, cfg.Database.Name); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return &stores{
		accounts: repository.NewAccountRepository(db),
		slots:    repository.NewSlotRepository(db),
		audit:    repository.NewAuditRepository(db),
		db:       db,
	}, nil
}

func buildApplication(cfg *config.Config, logr *zap.Logger, st *stores, redisClient *redis.Client) (*application, error) {
	metricsSvc := service.NewMetricsService()
	validate := validator.New()
	gate := access.NewGate(nil)

	blobs, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init upload storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	var gateway payment.Gateway
	switch cfg.Payments.Provider {
	case config.PaymentProviderRazorpay:
		gateway = payment.NewRazorpayGateway(payment.RazorpayConfig{
			KeyID:     cfg.Payments.KeyID,
			KeySecret: cfg.Payments.KeySecret,
			BaseURL:   cfg.Payments.BaseURL,
			Currency:  cfg.Payments.Currency,
			Timeout:   cfg.Payments.Timeout,
		}, nil)
	default:
		gateway = payment.NewManualGateway(cfg.Payments.Currency)
	}

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.PermissionTTL, logr, redisClient != nil)
	idempotency := repository.NewIdempotencyRepository(redisClient)

	workers := cfg.Uploads.CleanupWorkers
	if workers <= 0 {
		workers = 1
	}
	cleanup := jobs.NewQueue("blob-cleanup", service.NewBlobCleanupHandler(blobs, logr), jobs.QueueConfig{
		Workers:    workers,
		BufferSize: 256,
		MaxRetries: 3,
		RetryDelay: time.Second,
		Logger:     logr,
		Observer:   metricsSvc.RecordBackgroundJob,
	})

	guard := service.NewConcurrencyGuard(st.accounts, service.GuardConfig{
		MaxAttempts: cfg.Lifecycle.MaxAttempts,
		Backoff:     cfg.Lifecycle.RetryBackoff,
	}, metricsSvc, logr)

	lifecycle := service.NewLifecycleService(service.LifecycleDeps{
		Gate:        gate,
		Guard:       guard,
		Slots:       st.slots,
		Blobs:       blobs,
		Payments:    gateway,
		Idempotency: idempotency,
		Cleanup:     cleanup,
		Audit:       st.audit,
		Signer:      signer,
		Metrics:     metricsSvc,
	}, service.LifecycleConfig{
		Rules:               workflow.Rules{RequiredDocuments: cfg.Lifecycle.RequiredDocuments},
		ApplicationIDPrefix: cfg.Lifecycle.ApplicationIDPrefix,
		CourseFee:           cfg.Payments.CourseFeeMinor,
		Currency:            cfg.Payments.Currency,
		MaxUploadBytes:      cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:        cfg.Uploads.AllowedMIMEs,
		IdempotencyTTL:      cfg.Cache.IdempotencyTTL,
		IdempotencyLease:    cfg.Cache.IdempotencyLease,
		DownloadPath:        cfg.APIPrefix + "/files/",
	}, validate, logr)

	return &application{
		limiter: ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		metrics: metricsSvc,
		audit:   st.audit,
		cleanup: cleanup,
		auth: service.NewAuthService(st.accounts, st.audit, validate, logr, service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
		}),
		identity:  service.NewIdentityService(st.accounts, cacheSvc, cfg.Cache.PermissionTTL, logr),
		lifecycle: lifecycle,
		profile:   service.NewProfileService(gate, guard, st.audit, metricsSvc, logr),
		slots:     service.NewSlotService(st.slots, gate, st.audit, validate, logr),
		accounts:  service.NewAccountService(st.accounts, gate, st.audit, st.audit, cacheSvc, validate, logr),
		requests:  service.NewRequestService(st.accounts, gate, export.NewCSVExporter(), logr),
		receipts:  service.NewReceiptService(guard, gate, export.NewPDFExporter(), cfg.Payments.Currency, logr),
	}, nil
}
