package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/pet-licence-api/internal/handler"
	"github.com/noah-isme/pet-licence-api/internal/middleware"
	"github.com/noah-isme/pet-licence-api/internal/service"
	"github.com/noah-isme/pet-licence-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/pet-licence-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/pet-licence-api/pkg/middleware/requestid"
)

// RouterConfig collects everything the HTTP surface is assembled from.
type RouterConfig struct {
	Logger          *zap.Logger
	Metrics         *service.MetricsService
	AllowedOrigins  []string
	APIPrefix       string
	EnableDocs      bool
	RequireIdentity bool

	Applications  *handler.ApplicationHandler
	Admin         *handler.AdminHandler
	Ops           *handler.MetricsHandler
	Identity      *service.IdentityTokenIssuer
	OTPLimiter    *middleware.RateLimiter
	VerifyLimiter *middleware.RateLimiter
}

// NewRouter builds the gin engine with public, admin and operational routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins, middleware.ActorHeader))
	r.Use(middleware.Metrics(cfg.Metrics))

	r.GET("/health", cfg.Ops.Health)
	r.GET("/ready", cfg.Ops.Ready)
	r.GET("/metrics", cfg.Ops.Prometheus)
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = "/api"
	}
	api := r.Group(prefix)

	apps := api.Group("/applications")
	apps.POST("/send-otp", middleware.RateLimit(cfg.OTPLimiter), cfg.Applications.SendOTP)
	apps.POST("/verify-otp", middleware.RateLimit(cfg.VerifyLimiter), cfg.Applications.VerifyOTP)
	if cfg.Identity != nil {
		apps.POST("/submit", middleware.Identity(cfg.Identity, cfg.RequireIdentity), cfg.Applications.Submit)
	} else {
		apps.POST("/submit", cfg.Applications.Submit)
	}
	apps.GET("/:id", cfg.Applications.Get)

	api.GET("/licences/:licenceNumber", cfg.Applications.VerifyLicence)

	admin := api.Group("/admin", middleware.Actor(), middleware.WithResponseMeta())
	admin.GET("/applications", cfg.Admin.List)
	admin.GET("/applications/export", cfg.Admin.Export)
	admin.GET("/applications/:id", cfg.Admin.Get)
	admin.DELETE("/applications/:id", cfg.Admin.Delete)
	admin.POST("/applications/:id/review", cfg.Admin.Review)
	admin.POST("/applications/:id/approve", cfg.Admin.Approve)
	admin.POST("/applications/:id/reject", cfg.Admin.Reject)
	admin.POST("/applications/:id/pay", cfg.Admin.Pay)
	admin.POST("/applications/:id/complete", cfg.Admin.Complete)
	admin.GET("/analytics/summary", cfg.Admin.Summary)
	admin.GET("/analytics/monthly", cfg.Admin.Monthly)
	admin.GET("/analytics/system", cfg.Admin.System)

	return r
}
