package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig represents the main application configuration
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Lessons   LessonsConfig   `mapstructure:"lessons"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// RedisConfig represents Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis server is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// StorageConfig locates the audio clip store
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// AudioConfig controls decoding and encoding of clips
type AudioConfig struct {
	FFmpegPath      string        `mapstructure:"ffmpeg_path"`
	ExportFormat    string        `mapstructure:"export_format"`
	AcceptedFormats []string      `mapstructure:"accepted_formats"`
	MinClipBytes    int64         `mapstructure:"min_clip_bytes"`
	FFmpegTimeout   time.Duration `mapstructure:"ffmpeg_timeout"`
	Bitrate         string        `mapstructure:"bitrate"`
	MaxUploadBytes  int           `mapstructure:"max_upload_bytes"`
}

// LessonsConfig holds lesson export defaults
type LessonsConfig struct {
	DefaultArtist     string        `mapstructure:"default_artist"`
	DefaultPlaylistID int64         `mapstructure:"default_playlist_id"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig represents OpenTelemetry configuration
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	UseOTLP  bool   `mapstructure:"use_otlp"`
	// SampleRatio is the fraction of new traces kept
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RateLimitConfig bounds request rates
type RateLimitConfig struct {
	GeneralLimit  int           `mapstructure:"general_limit"`
	GeneralWindow time.Duration `mapstructure:"general_window"`
	BuildLimit    int           `mapstructure:"build_limit"`
	BuildWindow   time.Duration `mapstructure:"build_window"`
}

// WorkerConfig represents background worker configuration
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	Queue         string        `mapstructure:"queue"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	UniqueTTL     time.Duration `mapstructure:"unique_ttl"`
}

// ConfigLoader loads configuration from file, environment and defaults
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader with its own viper instance
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("LESSONCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &ConfigLoader{viper: v}
}

// SetConfigFile points the loader at an explicit config file
func (l *ConfigLoader) SetConfigFile(path string) {
	l.viper.SetConfigFile(path)
}

// Load reads, unmarshals and validates the configuration
func (l *ConfigLoader) Load() (*AppConfig, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults and environment
	}

	var config AppConfig
	if err := l.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Audio.ExportFormat = strings.ToLower(strings.TrimPrefix(config.Audio.ExportFormat, "."))
	for i, f := range config.Audio.AcceptedFormats {
		config.Audio.AcceptedFormats[i] = strings.ToLower(strings.TrimPrefix(f, "."))
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.body_limit", 64*1024*1024)
	v.SetDefault("server.cors.allow_origins", []string{"*"})
	v.SetDefault("server.cors.allow_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors.allow_headers", []string{"Origin", "Content-Type", "Accept", "X-User-ID", "X-Request-ID"})
	v.SetDefault("server.cors.allow_credentials", false)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "lessoncast")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "lessoncast.db")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", DefaultConnMaxIdleTime)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)

	v.SetDefault("storage.root", "/var/www/audio/")

	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.export_format", "mp3")
	v.SetDefault("audio.accepted_formats", []string{"mp3", "wav", "ogg"})
	v.SetDefault("audio.min_clip_bytes", 1000)
	v.SetDefault("audio.ffmpeg_timeout", 2*time.Minute)
	v.SetDefault("audio.bitrate", "192k")
	v.SetDefault("audio.max_upload_bytes", 50*1024*1024)

	v.SetDefault("lessons.default_artist", "System")
	v.SetDefault("lessons.default_playlist_id", 1)
	v.SetDefault("lessons.lock_ttl", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.use_otlp", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("rate_limit.general_limit", 300)
	v.SetDefault("rate_limit.general_window", time.Minute)
	v.SetDefault("rate_limit.build_limit", 6)
	v.SetDefault("rate_limit.build_window", time.Minute)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue", "lessons")
	v.SetDefault("worker.sweep_schedule", "@every 15m")
	v.SetDefault("worker.stale_after", time.Hour)
	v.SetDefault("worker.unique_ttl", 10*time.Minute)
}

var supportedFormats = map[string]bool{"mp3": true, "wav": true, "ogg": true}

// validateConfig validates the configuration values
func validateConfig(config *AppConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch config.Database.Driver {
	case DriverPostgres:
		if config.Database.Host == "" {
			return fmt.Errorf("database.host cannot be empty")
		}
		if config.Database.DBName == "" {
			return fmt.Errorf("database.dbname cannot be empty")
		}
	case DriverSQLite:
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path cannot be empty")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverSQLite)
	}

	if config.Storage.Root == "" {
		return fmt.Errorf("storage.root cannot be empty")
	}

	if !supportedFormats[config.Audio.ExportFormat] {
		return fmt.Errorf("audio.export_format %q is not supported", config.Audio.ExportFormat)
	}
	if len(config.Audio.AcceptedFormats) == 0 {
		return fmt.Errorf("audio.accepted_formats cannot be empty")
	}
	for _, f := range config.Audio.AcceptedFormats {
		if !supportedFormats[f] {
			return fmt.Errorf("audio.accepted_formats contains unsupported format %q", f)
		}
	}
	if config.Audio.MinClipBytes < 0 {
		return fmt.Errorf("audio.min_clip_bytes cannot be negative")
	}

	if config.Lessons.DefaultPlaylistID < 1 {
		return fmt.Errorf("lessons.default_playlist_id must be positive")
	}
	if config.Lessons.LockTTL <= 0 {
		return fmt.Errorf("lessons.lock_ttl must be positive")
	}

	if config.RateLimit.BuildLimit < 0 {
		return fmt.Errorf("rate_limit.build_limit cannot be negative")
	}
	if config.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}

	return nil
}
