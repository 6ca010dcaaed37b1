package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"lessoncast/internal/app"
	"lessoncast/internal/config"
	"lessoncast/internal/jobs"
	"lessoncast/internal/logging"
)

// WorkerServer runs queued lesson builds and the stale file sweeper
type WorkerServer struct {
	srv     *asynq.Server
	mux     *asynq.ServeMux
	sweeper *jobs.Sweeper
	app     *app.App
	logger  *logging.Logger
}

// NewWorkerServer creates a new worker server
func NewWorkerServer(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) (*WorkerServer, error) {
	if !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("worker requires redis.addr to be set")
	}

	components, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	queue := cfg.Worker.Queue
	if queue == "" {
		queue = jobs.DefaultQueue
	}
	srv := asynq.NewServer(
		components.RedisClientOpt(),
		asynq.Config{
			Queues:      map[string]int{queue: 1},
			Concurrency: cfg.Worker.Concurrency,
			Logger:      asynqLogger{logger},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logging.WithJob(queue, task.Type()).Error().Err(err).Msg("Task failed")
			}),
		},
	)

	mux := asynq.NewServeMux()
	jobs.NewTaskHandler(components.Builder, components.Locker, cfg.Lessons.LockTTL, logger).Register(mux)

	sweeper, err := jobs.NewSweeper(components.Store, cfg.Worker.SweepSchedule, cfg.Worker.StaleAfter, logging.WithModule("sweeper"))
	if err != nil {
		_ = components.Close(ctx)
		return nil, err
	}

	logging.WithFields(map[string]interface{}{
		"queue":          queue,
		"concurrency":    cfg.Worker.Concurrency,
		"sweep_schedule": cfg.Worker.SweepSchedule,
	}).Info().Msg("Worker configured")

	return &WorkerServer{srv: srv, mux: mux, sweeper: sweeper, app: components, logger: logger}, nil
}

// Start starts processing tasks
func (w *WorkerServer) Start() error {
	w.logger.Zerolog().Info().Msg("Starting worker server...")
	w.sweeper.Start()
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight tasks and closes connections
func (w *WorkerServer) Shutdown(ctx context.Context) {
	w.logger.Zerolog().Info().Msg("Shutting down worker server...")
	w.srv.Shutdown()
	w.sweeper.Stop(ctx)
	if err := w.app.Close(ctx); err != nil {
		w.logger.Zerolog().Error().Err(err).Msg("Error closing connections")
	}
}

// asynqLogger routes asynq's internal logging through zerolog
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Zerolog().Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Zerolog().Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Zerolog().Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Zerolog().Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Zerolog().Fatal().Msg(fmt.Sprint(args...)) }

func main() {
	configPath := flag.String("config", "", "Path to a config file")
	flag.Parse()

	loader := config.NewConfigLoader()
	if *configPath != "" {
		loader.SetConfigFile(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)

	worker, err := NewWorkerServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Zerolog().Fatal().Err(err).Msg("Failed to create worker server")
	}
	if err := worker.Start(); err != nil {
		logger.Zerolog().Fatal().Err(err).Msg("Worker server error")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Zerolog().Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	worker.Shutdown(ctx)
}
