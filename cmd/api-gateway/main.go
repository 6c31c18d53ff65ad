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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-fee-api/api/swagger"
	"github.com/noah-isme/sma-fee-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-fee-api/internal/middleware"
	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	"github.com/noah-isme/sma-fee-api/internal/service"
	"github.com/noah-isme/sma-fee-api/pkg/cache"
	"github.com/noah-isme/sma-fee-api/pkg/config"
	"github.com/noah-isme/sma-fee-api/pkg/database"
	"github.com/noah-isme/sma-fee-api/pkg/export"
	"github.com/noah-isme/sma-fee-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-fee-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-fee-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-fee-api/pkg/receipt"
)

// @title SMA Fee API
// @version 1.0.0
// @description School fee catalog, collection ledger and receipts
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, receipt cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			cacheRepo = repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix, logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Fees.ReceiptCacheTTL, logr)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	catalogRepo := repository.NewFeeCatalogRepository(db)
	assignmentRepo := repository.NewFeeAssignmentRepository(db)
	collectionRepo := repository.NewFeeCollectionRepository(db)

	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	catalogSvc := service.NewFeeCatalogService(catalogRepo, auditRepo, validate, logr)
	obligationSvc := service.NewObligationService(directoryRepo, catalogRepo, assignmentRepo, logr)
	assignmentSvc := service.NewAssignmentLedgerService(assignmentRepo, catalogRepo, collectionRepo, directoryRepo, metricsSvc, logr)
	pdfExporter := export.NewPDFExporter()
	ledgerSvc := service.NewPaymentLedgerService(collectionRepo, assignmentRepo, catalogRepo, directoryRepo, validate, logr,
		service.WithReceiptCache(cacheSvc, cfg.Fees.ReceiptCacheTTL),
		service.WithLedgerMetrics(metricsSvc),
		service.WithLedgerAudit(auditRepo),
		service.WithReceiptSigner(receipt.NewSigner(cfg.Fees.ReceiptSecret)),
		service.WithReceiptBranding(cfg.Fees.ReceiptPrefix, cfg.Fees.SchoolName),
		service.WithLedgerExporters(export.NewCSVExporter(), pdfExporter),
	)
	sweeper := service.NewOverdueSweeper(assignmentSvc, cfg.Fees.OverdueSweepInterval, cfg.Fees.SweepRetries, logr)

	if cfg.Fees.Enabled {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	authHandler := handler.NewAuthHandler(authSvc)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/auth/change-password", authHandler.ChangePassword)

	admins := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	secured.GET("/metrics/snapshot", admins, metricsHandler.Snapshot)

	if cfg.Fees.Enabled {
		registerFeeRoutes(api, secured, feeHandlers{
			catalog:     handler.NewFeeCatalogHandler(catalogSvc),
			collections: handler.NewFeeCollectionHandler(ledgerSvc),
			assignments: handler.NewFeeAssignmentHandler(obligationSvc, assignmentSvc, sweeper),
		}, auditRepo, logr)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
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

type feeHandlers struct {
	catalog     *handler.FeeCatalogHandler
	collections *handler.FeeCollectionHandler
	assignments *handler.FeeAssignmentHandler
}

func registerFeeRoutes(public, secured *gin.RouterGroup, h feeHandlers, audit internalmiddleware.AuditWriter, logr *zap.Logger) {
	public.GET("/fees/receipts/:receiptNumber/check", h.collections.CheckReceipt)

	fees := secured.Group("/fees")
	desk := internalmiddleware.RequireFeeDesk()
	admins := internalmiddleware.RequireFeeVerifier()

	fees.GET("/categories", desk, h.catalog.ListCategories)
	fees.POST("/categories", admins, internalmiddleware.Audit(audit, logr, models.AuditActionFeeCategoryCreate, "fee_category", ""), h.catalog.CreateCategory)
	fees.PUT("/categories/:id", admins, internalmiddleware.Audit(audit, logr, models.AuditActionFeeCategoryUpdate, "fee_category", "id"), h.catalog.UpdateCategory)
	fees.GET("/structures", desk, h.catalog.ListStructures)
	fees.GET("/structures/:id", desk, h.catalog.GetStructure)
	fees.POST("/structures", admins, internalmiddleware.Audit(audit, logr, models.AuditActionFeeStructureCreate, "fee_structure", ""), h.catalog.CreateStructure)
	fees.PUT("/structures/:id", admins, internalmiddleware.Audit(audit, logr, models.AuditActionFeeStructureUpdate, "fee_structure", "id"), h.catalog.UpdateStructure)
	fees.DELETE("/structures/:id", admins, h.catalog.DeleteStructure)

	fees.GET("/students/:studentId/obligations", desk, h.assignments.Obligations)
	fees.GET("/students/:studentId/assignments", desk, h.assignments.Assignments)
	fees.GET("/assignments/:id/late-fee", desk, h.assignments.LateFee)
	fees.POST("/overdue-sweep", admins, internalmiddleware.Audit(audit, logr, models.AuditActionOverdueSweep, "fee_assignment", ""), h.assignments.OverdueSweep)

	fees.GET("/collections", desk, h.collections.List)
	fees.GET("/collections/export.csv", desk, h.collections.ExportCSV)
	fees.GET("/collections/export.pdf", desk, h.collections.ExportPDF)
	fees.POST("/collections", desk, h.collections.Collect)
	fees.PATCH("/collections/:id", desk, h.collections.Amend)
	fees.POST("/collections/:id/verify", admins, h.collections.Verify)
	fees.GET("/collections/:id/history", admins, h.collections.History)
	fees.GET("/collections/:id/receipt", desk, h.collections.Receipt)
	fees.GET("/collections/:id/receipt.pdf", desk, h.collections.ReceiptPDF)
}
