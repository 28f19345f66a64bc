package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/stocklot/backend/internal/config"
	"github.com/stocklot/backend/internal/database"
	"github.com/stocklot/backend/internal/handlers"
	"github.com/stocklot/backend/internal/logger"
	"github.com/stocklot/backend/internal/middleware"
	"github.com/stocklot/backend/internal/models"
	"github.com/stocklot/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.Connect(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := models.AutoMigrate(db); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	// Backup engine wiring
	store := services.NewScheduleStore(db, zlog)
	if err := store.EnsureDefault(context.Background()); err != nil {
		zlog.Fatal("failed to seed backup schedule", zap.Error(err))
	}
	ledger := services.NewHistoryLedger(db, zlog)
	artifacts := services.NewDumpStore(cfg, db, zlog)
	retention := services.NewRetentionEnforcer(store, artifacts, artifacts, zlog)
	executor := services.NewExecutor(store, ledger, artifacts, retention, artifacts, zlog)
	scheduler := services.NewScheduler(store, executor, zlog)
	store.BindTrigger(scheduler)

	// Close out history rows left running by a crash before anything new fires
	if _, err := ledger.ReconcileInterrupted(context.Background()); err != nil {
		zlog.Warn("failed to reconcile interrupted history rows", zap.Error(err))
	}

	result, err := scheduler.Start(context.Background())
	if err != nil {
		zlog.Error("backup scheduler failed to start", zap.Error(err))
	} else {
		zlog.Info("backup scheduler startup", zap.Stringer("result", result))
	}

	app := fiber.New(fiber.Config{
		AppName:      "Stocklot API v1.0",
		ServerHeader: "Stocklot",
		BodyLimit:    50 * 1024 * 1024, // 50MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger(zlog))
	app.Use(middleware.CORS())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "stocklot-api",
		})
	})

	backupHandler := handlers.NewBackupHandler(store, ledger, executor, scheduler, artifacts, zlog)
	backupHandler.Register(app.Group("/api/backup"))

	// Graceful shutdown: stop future fires, let an in-flight cycle finish
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		zlog.Info("shutting down")
		scheduler.Stop()
		app.Shutdown()
	}()

	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}
