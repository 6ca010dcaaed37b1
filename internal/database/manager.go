package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lessoncast/internal/config"
)

// DatabaseManager owns the gorm handle and its connection pool
type DatabaseManager struct {
	config *config.DatabaseConfig
	gormDB *gorm.DB
	sqlDB  *sql.DB
	logger *zerolog.Logger
}

// GORMConfig returns the gorm settings shared by every connection
func GORMConfig() *gorm.Config {
	return &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
	}
}

func dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		return postgres.Open(cfg.DSN()), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDatabaseManager opens and verifies a connection for the configured driver
func NewDatabaseManager(cfg *config.DatabaseConfig, log *zerolog.Logger) (*DatabaseManager, error) {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, GORMConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := runHealthCheck(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("Database connection established")

	return &DatabaseManager{
		config: cfg,
		gormDB: db,
		sqlDB:  sqlDB,
		logger: log,
	}, nil
}

// runHealthCheck fails unless SELECT 1 answers within ten seconds
func runHealthCheck(db *gorm.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result int
	return db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error
}

// GetGormDB returns the shared gorm handle
func (d *DatabaseManager) GetGormDB() *gorm.DB {
	return d.gormDB
}

// GetSQLDB exposes the pool for stats and pings
func (d *DatabaseManager) GetSQLDB() *sql.DB {
	return d.sqlDB
}

// Close shuts the connection pool
func (d *DatabaseManager) Close() error {
	return d.sqlDB.Close()
}
