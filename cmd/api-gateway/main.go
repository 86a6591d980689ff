package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/noah-isme/pet-licence-api/api/swagger"
	"github.com/noah-isme/pet-licence-api/internal/handler"
	"github.com/noah-isme/pet-licence-api/internal/middleware"
	"github.com/noah-isme/pet-licence-api/internal/repository"
	"github.com/noah-isme/pet-licence-api/internal/server"
	"github.com/noah-isme/pet-licence-api/internal/service"
	"github.com/noah-isme/pet-licence-api/pkg/cache"
	"github.com/noah-isme/pet-licence-api/pkg/config"
	"github.com/noah-isme/pet-licence-api/pkg/database"
	"github.com/noah-isme/pet-licence-api/pkg/jobs"
	"github.com/noah-isme/pet-licence-api/pkg/logger"
)

// @title Pet Licence API
// @version 1.0.0
// @description Municipal pet licence applications: email verification, intake and back-office review.
// @BasePath /api
// @schemes http https

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pet-licence-api",
		Short:         "Pet licence application portal API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.NewPostgres(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if statusOnly {
				return database.MigrationStatus(db.DB)
			}
			return database.Migrate(db.DB)
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print migration status instead of migrating")
	return cmd
}

func runServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.OTP.Store == config.OTPStoreRedis || cfg.Analytics.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	appRepo := repository.NewApplicationRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, logr),
		metrics,
		cfg.Analytics.CacheTTL,
		logr,
		cfg.Analytics.CacheEnabled,
	)

	dispatcher := service.NewQueueDispatcher(
		service.NewLogNotifier(logr, cfg.Env != config.EnvProduction),
		metrics,
		jobs.QueueConfig{
			Workers:    cfg.OTP.DispatchWorkers,
			MaxRetries: cfg.OTP.DispatchRetries,
			RetryDelay: time.Second,
			Logger:     logr,
		},
	)
	stopDispatcher := startDetached(ctx, dispatcher)
	defer stopDispatcher()

	otpSvc := service.NewOTPService(
		newOTPStore(cfg, redisClient),
		logr,
		service.WithOTPTTL(cfg.OTP.TTL),
		service.WithOTPDispatcher(dispatcher),
		service.WithOTPMetrics(metrics),
	)

	identity, err := service.NewIdentityTokenIssuer(service.IdentityTokenConfig{
		Secret: cfg.Identity.TokenSecret,
		TTL:    cfg.Identity.TokenTTL,
		Issuer: cfg.Identity.Issuer,
	}, nil)
	if err != nil {
		return err
	}

	intakeSvc := service.NewIntakeService(appRepo, validator.New(), logr,
		service.WithIntakeCache(cacheSvc),
		service.WithIntakeMetrics(metrics),
	)
	adminSvc := service.NewAdminService(appRepo, analyticsRepo, logr,
		service.WithAdminCache(cacheSvc, cfg.Analytics.CacheTTL),
		service.WithAdminMetrics(metrics),
	)

	router := server.NewRouter(server.RouterConfig{
		Logger:          logr,
		Metrics:         metrics,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		APIPrefix:       cfg.APIPrefix,
		EnableDocs:      cfg.Env != config.EnvProduction,
		RequireIdentity: cfg.Identity.RequireForSubmit,
		Applications:    handler.NewApplicationHandler(otpSvc, identity, intakeSvc, cfg.Identity.RequireForSubmit),
		Admin:           handler.NewAdminHandler(adminSvc),
		Ops:             handler.NewMetricsHandler(metrics, appRepo),
		Identity:        identity,
		OTPLimiter:      middleware.NewRateLimiter(cfg.OTP.SendRate, cfg.OTP.SendBurst),
		VerifyLimiter:   middleware.NewRateLimiter(cfg.OTP.VerifyRate, cfg.OTP.VerifyBurst),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("otp_store", cfg.OTP.Store),
			zap.Bool("analytics_cache", cfg.Analytics.CacheEnabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stopDispatcher()
	return err
}

type backgroundWorker interface {
	Start(ctx context.Context)
	Stop()
}

// startDetached runs w on a context that outlives the signal context so requests
// drained by Shutdown can still enqueue. The returned stop is idempotent.
func startDetached(parent context.Context, w backgroundWorker) func() {
	w.Start(context.WithoutCancel(parent))
	var once sync.Once
	return func() { once.Do(w.Stop) }
}

func newOTPStore(cfg *config.Config, client *redis.Client) service.OTPStore {
	if cfg.OTP.Store == config.OTPStoreRedis && client != nil {
		return repository.NewOTPRedisStore(client, repository.WithMaxAttempts(cfg.OTP.MaxAttempts))
	}
	return repository.NewOTPMemoryStore(repository.WithMemoryMaxAttempts(cfg.OTP.MaxAttempts))
}
