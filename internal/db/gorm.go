package db

import (
	"fmt"
	"log"
	"strings"

	"feedback-insights/internal/config"
	"feedback-insights/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the database selected by cfg.DBDriver and migrates it.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	level := ParseLogLevel(cfg.DBLogLevel)

	switch cfg.DBDriver {
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath, level)
	default:
		return OpenPostgres(cfg.DatabaseURL(), level)
	}
}

// OpenPostgres connects to Postgres, enables pgvector and migrates the schema.
func OpenPostgres(dsn string, level logger.LogLevel) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Println("✓ Postgres connected and migrated successfully")

	return &GormDB{db}, nil
}

// OpenSQLite opens a local SQLite file. Nearest-neighbour lookups fall back
// to an exact scan because there is no vector operator.
func OpenSQLite(path string, level logger.LogLevel) (*GormDB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY under the worker pool.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &GormDB{db}, nil
}

// Migrate creates or updates the schema. The vector index only exists on Postgres.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Document{},
		&models.Insight{},
		&models.DocumentInsight{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if db.Dialector.Name() != "postgres" {
		return nil
	}

	// GORM has no vector index support, so the HNSW index is created by hand.
	err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_insights_vector
		ON insights USING hnsw (vector vector_cosine_ops)
	`).Error
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	return nil
}

// ParseLogLevel maps DB_LOG_LEVEL to a gorm log level; unknown values mean warn.
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
