package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"lessoncast/internal/audio"
	"lessoncast/internal/clipstore"
	"lessoncast/internal/config"
	"lessoncast/internal/database"
	"lessoncast/internal/handlers"
	"lessoncast/internal/jobs"
	"lessoncast/internal/lessons"
	"lessoncast/internal/lock"
	"lessoncast/internal/logging"
	"lessoncast/internal/metrics"
	"lessoncast/internal/services"
	"lessoncast/internal/tracing"
)

// App holds the components shared by the server, the worker and the CLIs
type App struct {
	Config   *config.AppConfig
	Logger   *logging.Logger
	DB       *database.DatabaseManager
	Repo     *services.Repository
	Store    *clipstore.Store
	Codec    *audio.Codec
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Service  *lessons.Service
	Builder  *lessons.Builder
	Locker   lock.Locker
	// Redis is nil when no Redis address is configured
	Redis redis.UniversalClient

	tracer *tracing.Provider
}

// New connects to the configured backends and builds the lesson pipeline
func New(ctx context.Context, cfg *config.AppConfig, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	a := &App{Config: cfg, Logger: logger}

	if cfg.Tracing.Enabled {
		tracer, err := tracing.NewProvider(ctx, tracing.Options{
			Endpoint:    cfg.Tracing.Endpoint,
			UseOTLP:     cfg.Tracing.UseOTLP,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.tracer = tracer
	}

	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = dbManager
	a.Repo = services.NewRepository(dbManager.GetGormDB())

	a.Store, err = clipstore.New(cfg.Storage.Root)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to open clip store: %w", err)
	}

	a.Codec = audio.NewCodec(audio.Options{
		FFmpegPath: cfg.Audio.FFmpegPath,
		Timeout:    cfg.Audio.FFmpegTimeout,
		Bitrate:    cfg.Audio.Bitrate,
	})
	if err := a.Codec.CheckFFmpeg(); err != nil {
		logger.Zerolog().Warn().Err(err).Msg("ffmpeg unavailable, mp3 export and ogg clips will fail")
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.InitializeMetrics(a.Registry)

	a.Service = lessons.NewService(a.Repo, a.Store, cfg.Audio.AcceptedFormats, a.Metrics, logger.Zerolog())
	a.Builder = lessons.NewBuilder(a.Repo, a.Store, a.Codec, BuildOptions(cfg), a.Metrics, logger.Zerolog())

	if cfg.Redis.Enabled() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{cfg.Redis.Addr},
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = a.Close(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = rdb
		a.Locker = lock.NewRedisLocker(rdb)
	} else {
		logger.Zerolog().Info().Msg("Redis not configured, using in-process lesson locks")
		a.Locker = lock.NewLocalLocker()
	}

	return a, nil
}

// BuildOptions maps the audio and lesson settings onto the builder options
func BuildOptions(cfg *config.AppConfig) lessons.BuildOptions {
	opts := lessons.DefaultBuildOptions()
	if cfg.Audio.ExportFormat != "" {
		opts.ExportFormat = cfg.Audio.ExportFormat
	}
	if cfg.Audio.MinClipBytes > 0 {
		opts.MinClipBytes = cfg.Audio.MinClipBytes
	}
	if cfg.Lessons.DefaultArtist != "" {
		opts.DefaultArtist = cfg.Lessons.DefaultArtist
	}
	if cfg.Lessons.DefaultPlaylistID > 0 {
		opts.DefaultPlaylistID = cfg.Lessons.DefaultPlaylistID
	}
	return opts
}

// Migrate brings the schema up to date
func (a *App) Migrate(ctx context.Context) error {
	return database.NewMigrationManager(a.DB.GetGormDB(), a.Logger.Zerolog()).Migrate(ctx)
}

// RedisClientOpt returns the asynq connection settings for the configured Redis
func (a *App) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         a.Config.Redis.Addr,
		Password:     a.Config.Redis.Password,
		DB:           a.Config.Redis.DB,
		PoolSize:     a.Config.Redis.PoolSize,
		DialTimeout:  a.Config.Redis.Timeout,
		ReadTimeout:  a.Config.Redis.Timeout,
		WriteTimeout: a.Config.Redis.Timeout,
	}
}

// LessonHandlerConfig wires the lesson admin endpoints. enqueuer and inspector may be nil.
func (a *App) LessonHandlerConfig(enqueuer jobs.Enqueuer, inspector jobs.TaskInspector) handlers.LessonHandlerConfig {
	return handlers.LessonHandlerConfig{
		Service:   a.Service,
		Builder:   a.Builder,
		Locker:    a.Locker,
		LockTTL:   a.Config.Lessons.LockTTL,
		Enqueuer:  enqueuer,
		Inspector: inspector,
		Queue:     a.Config.Worker.Queue,
		UniqueTTL: a.Config.Worker.UniqueTTL,
		Logger:    a.Logger.Zerolog(),
	}
}

// Close releases every connection the app opened
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
