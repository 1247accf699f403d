package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"datagrid-backend/internal/admin"
	"datagrid-backend/internal/auth"
	"datagrid-backend/internal/config"
	"datagrid-backend/internal/engine"
	"datagrid-backend/internal/filter"
	"datagrid-backend/internal/instrument"
	"datagrid-backend/internal/logger"
	"datagrid-backend/internal/metadata"
	"datagrid-backend/internal/storage"
	"datagrid-backend/internal/store"
	"datagrid-backend/internal/upload"
)

const recentEvents = 2000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	logger.Infof("database connected (driver: %s)", db.Dialect.Name())

	if err := db.Bootstrap(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	if cfg.TablesDir != "" {
		tables, err := metadata.LoadTableDir(cfg.TablesDir)
		if err != nil {
			return fmt.Errorf("load table definitions: %w", err)
		}
		n, err := db.SeedTables(ctx, tables)
		if err != nil {
			return err
		}
		logger.Infof("seeded %d of %d table definitions from %s", n, len(tables), cfg.TablesDir)
	}

	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg); err != nil {
		logger.Warnf("failed to load metadata: %v", err)
	}

	eval := filter.NewEvaluator(filter.SystemClock)
	loc := cfg.Upload.Location()
	recorder := instrument.NewRecorder(recentEvents)
	tracer := instrument.NewTracer(instrument.Sinks{
		instrument.LogSink{Slow: time.Duration(cfg.Instrumentation.SlowQueryMs) * time.Millisecond},
		recorder,
	})

	staging := upload.NewStaging(cfg.Upload.StagingTTL)
	scheduler := cron.New()
	if _, err := staging.Schedule(scheduler, cfg.Upload.PurgeSchedule); err != nil {
		return fmt.Errorf("schedule staging purge: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(cfg.Instrumentation, tracer))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "tables": len(reg.AllTables()), "staged_uploads": staging.Len()})
	})

	api := app.Group("/api")

	// login and refresh run without a token
	authHandler := auth.NewAuthHandler(db, cfg.Auth)
	auth.RegisterAuthRoutes(api, authHandler)

	api.Use(auth.Middleware(cfg.Auth))
	api.Get("/auth/me", authHandler.Me)

	adminOnly := auth.RequireAdmin()
	admin.RegisterAdminRoutes(api, admin.NewHandler(db, reg, store.NewMigrator(db)), adminOnly)
	instrument.RegisterEventRoutes(api, instrument.NewEventHandler(recorder, eval), adminOnly)
	engine.RegisterMetaRoutes(api, engine.NewMetaHandler(reg))
	engine.RegisterDynamicRoutes(api,
		engine.NewHandler(db, reg, eval, loc),
		engine.NewUploadHandler(db, reg, eval, staging, storage.NewLocalStorage(cfg.Storage.LocalPath), cfg.Upload, cfg.Storage.MaxFileSize),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Infof("listening on %s", addr)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Infof("shutting down")
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
