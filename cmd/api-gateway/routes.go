package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/admission-portal-api/internal/handler"
	"github.com/noah-isme/admission-portal-api/internal/middleware"
	"github.com/noah-isme/admission-portal-api/internal/models"
	"github.com/noah-isme/admission-portal-api/internal/service"
	"github.com/noah-isme/admission-portal-api/pkg/config"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/jobs"
	"github.com/noah-isme/admission-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/admission-portal-api/pkg/middleware/cors"
	"github.com/noah-isme/admission-portal-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/admission-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

type application struct {
	limiter *ratelimit.Limiter
	metrics *service.MetricsService
	audit   auditTrail
	cleanup *jobs.Queue

	auth      *service.AuthService
	identity  *service.IdentityService
	lifecycle *service.LifecycleService
	profile   *service.ProfileService
	slots     *service.SlotService
	accounts  *service.AccountService
	requests  *service.RequestService
	receipts  *service.ReceiptService
}

func newRouter(cfg *config.Config, logr *zap.Logger, app *application) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(app.metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(app.auth)
	lifecycleHandler := handler.NewLifecycleHandler(app.lifecycle)
	profileHandler := handler.NewProfileHandler(app.profile)
	slotHandler := handler.NewSlotHandler(app.slots)
	accountHandler := handler.NewAccountHandler(app.accounts)
	requestHandler := handler.NewRequestHandler(app.requests)
	receiptHandler := handler.NewReceiptHandler(app.receipts)

	throttle := app.limiter.Middleware(middleware.RateKey, func(c *gin.Context) {
		response.Error(c, appErrors.ErrRateLimited)
	})

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/register", throttle, authHandler.Register)
	api.POST("/auth/login", throttle, authHandler.Login)
	api.GET("/files/:token", lifecycleHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.auth), middleware.Identity(app.identity))
	secured.GET("/auth/me", authHandler.Me)
	secured.GET("/slots", slotHandler.List)

	accounts := secured.Group("/accounts/:accountId")
	accounts.GET("", profileHandler.Get)
	accounts.PUT("/profile/:section", profileHandler.UpdateSection)
	accounts.POST("/profile/lock", profileHandler.Lock)
	accounts.POST("/profile/unlock", profileHandler.Unlock)

	courses := accounts.Group("/courses")
	courses.POST("", lifecycleHandler.Apply)
	courses.DELETE("/:courseId", lifecycleHandler.DeleteApplication)
	courses.POST("/:courseId/payment-order", throttle, lifecycleHandler.CreatePaymentOrder)
	courses.POST("/:courseId/payment", throttle, lifecycleHandler.RecordPayment)
	courses.GET("/:courseId/receipt", receiptHandler.Download)
	courses.POST("/:courseId/appointment", lifecycleHandler.BookAppointment)
	courses.PATCH("/:courseId/status", lifecycleHandler.UpdateCourseStatus)
	courses.POST("/:courseId/documents", lifecycleHandler.UploadDocument)
	courses.PATCH("/:courseId/documents/:documentId/status", lifecycleHandler.UpdateDocumentStatus)
	courses.GET("/:courseId/documents/:documentId/link", lifecycleHandler.DocumentLink)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleStaff))
	admin.GET("/dashboard", requestHandler.Summary)
	admin.GET("/requests", requestHandler.List)
	admin.GET("/requests/export", middleware.Audit(app.audit, models.AuditActionRequestsExport, models.AuditResourceRequest), requestHandler.Export)
	admin.POST("/slots/publish", slotHandler.Publish)
	admin.POST("/slots/unpublish", slotHandler.Unpublish)
	admin.POST("/staff", accountHandler.CreateStaff)
	admin.PUT("/staff/:staffId/permissions", accountHandler.UpdatePermissions)
	admin.GET("/audit-logs", accountHandler.AuditLogs)

	return r
}

func sweepLimiters(ctx context.Context, app *application) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.limiter.Sweep()
		}
	}
}
