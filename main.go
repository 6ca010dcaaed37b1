package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lessoncast/internal/app"
	"lessoncast/internal/config"
	"lessoncast/internal/handlers"
	"lessoncast/internal/health"
	"lessoncast/internal/jobs"
	"lessoncast/internal/logging"
	"lessoncast/internal/middleware"
	"lessoncast/internal/tracing"
	"lessoncast/internal/utils"
)

// Version of the application
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to a config file")
	flag.Parse()

	configLoader := config.NewConfigLoader()
	if *configPath != "" {
		configLoader.SetConfigFile(*configPath)
	}
	appConfig, err := configLoader.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(appConfig.Logging.Level), appConfig.Logging.Format)
	log := logging.WithModule("server")

	ctx := context.Background()
	components, err := app.New(ctx, appConfig, logger)
	if err != nil {
		logging.WithError(err).Fatal().Msg("Failed to initialize application")
	}
	defer components.Close(context.Background())

	if err := components.Migrate(ctx); err != nil {
		logging.WithError(err).Fatal().Msg("Failed to run migrations")
	}

	var enqueuer jobs.Enqueuer
	var inspector jobs.TaskInspector
	if appConfig.Redis.Enabled() {
		client := asynq.NewClient(components.RedisClientOpt())
		defer client.Close()
		enqueuer = client
		taskInspector := asynq.NewInspector(components.RedisClientOpt())
		defer taskInspector.Close()
		inspector = taskInspector
	}

	fiberApp := fiber.New(fiber.Config{
		ServerHeader: "Lessoncast",
		AppName:      "Lessoncast v" + Version,
		ErrorHandler: utils.ErrorHandler,
		BodyLimit:    appConfig.Server.BodyLimit,
		ReadTimeout:  appConfig.Server.ReadTimeout,
		WriteTimeout: appConfig.Server.WriteTimeout,
		IdleTimeout:  appConfig.Server.IdleTimeout,
	})

	fiberApp.Use(recover.New())
	fiberApp.Use(helmet.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(appConfig.Server.CORS.AllowOrigins, ","),
		AllowMethods:     strings.Join(appConfig.Server.CORS.AllowMethods, ","),
		AllowHeaders:     strings.Join(appConfig.Server.CORS.AllowHeaders, ","),
		AllowCredentials: appConfig.Server.CORS.AllowCredentials,
	}))
	fiberApp.Use(logging.RequestIDMiddleware())
	fiberApp.Use(logger.FiberLoggerMiddleware())
	if appConfig.Tracing.Enabled {
		fiberApp.Use(tracing.FiberMiddleware())
	}
	fiberApp.Use(middleware.MetricsMiddleware(components.Metrics))
	fiberApp.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralLimit:  appConfig.RateLimit.GeneralLimit,
		GeneralWindow: appConfig.RateLimit.GeneralWindow,
	}))

	health.RegisterHealthRoutes(fiberApp, health.NewChecker(components.DB.GetGormDB(), components.Redis, components.Metrics))
	fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(components.Registry, promhttp.HandlerOpts{})))

	var buildLimiter *middleware.KeyedRateLimiter
	if appConfig.RateLimit.BuildLimit > 0 {
		buildLimiter = middleware.NewKeyedRateLimiter(appConfig.RateLimit.BuildLimit, appConfig.RateLimit.BuildWindow)
	}
	handlers.RegisterRoutes(fiberApp, handlers.Dependencies{
		Repo:         components.Repo,
		Store:        components.Store,
		Lessons:      components.LessonHandlerConfig(enqueuer, inspector),
		Metrics:      components.Metrics,
		Logger:       log,
		BuildLimiter: buildLimiter,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down gracefully...")
		if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	addr := fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port)
	log.Info().
		Str("addr", addr).
		Str("storage_root", components.Store.Root()).
		Bool("redis", appConfig.Redis.Enabled()).
		Msg("Starting server")
	if err := fiberApp.Listen(addr); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}
