// Package store opens the relational database behind councilhub and owns
// schema migration, transactions and the small lookups other packages need.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/starford/councilhub/internal/apperr"
	"github.com/starford/councilhub/internal/metrics"
	"github.com/starford/councilhub/internal/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options configures Open.
type Options struct {
	Driver        string
	DSN           string
	SlowThreshold time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// DB wraps the GORM handle.
type DB struct {
	gorm   *gorm.DB
	driver string
}

// Open connects, pings and migrates the schema.
func Open(opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialector, err := dialectorFor(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	g, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(opts.Logger, opts.SlowThreshold, opts.Metrics),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Driver, err)
	}

	db := &DB{gorm: g, driver: opts.Driver}
	if err := db.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite, "":
		conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		return sqlite.New(sqlite.Config{Conn: conn}), nil
	case DriverPostgres:
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		conn.SetMaxOpenConns(20)
		conn.SetConnMaxIdleTime(5 * time.Minute)
		return postgres.New(postgres.Config{Conn: conn}), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

func (db *DB) migrate() error {
	if err := db.gorm.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Gorm returns the handle for packages that build their own queries.
func (db *DB) Gorm() *gorm.DB {
	return db.gorm
}

// Driver returns the configured driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside one database transaction. Any error returned by
// fn rolls everything back and is wrapped as a persistence failure unless it
// already belongs to the error taxonomy.
func (db *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := db.gorm.WithContext(ctx).Transaction(fn)
	return apperr.Persistence("transaction", err)
}

// SafeNameExists reports whether a stored name is in use by a file row or
// as a meeting's transcript or video.
func (db *DB) SafeNameExists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := db.gorm.WithContext(ctx).Model(&models.File{}).Where("safe_name = ?", name).Count(&n).Error
	if err != nil {
		return false, apperr.Persistence("lookup safe name", err)
	}
	if n > 0 {
		return true, nil
	}
	err = db.gorm.WithContext(ctx).Model(&models.Meeting{}).
		Where("meeting_transcript = ? OR video = ?", name, name).
		Count(&n).Error
	if err != nil {
		return false, apperr.Persistence("lookup media name", err)
	}
	return n > 0, nil
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
