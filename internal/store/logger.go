package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/starford/councilhub/internal/metrics"
)

// GormLogger routes GORM's logging through slog and records query metrics.
type GormLogger struct {
	log           *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
	metrics       *metrics.Metrics
}

// NewGormLogger returns a logger at Warn level. Queries slower than
// slowThreshold are logged as warnings; zero disables the check.
func NewGormLogger(log *slog.Logger, slowThreshold time.Duration, m *metrics.Metrics) *GormLogger {
	return &GormLogger{
		log:           log.With(slog.String("component", "store")),
		level:         logger.Warn,
		slowThreshold: slowThreshold,
		metrics:       m,
	}
}

// LogMode implements logger.Interface.
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

// Info implements logger.Interface.
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface.
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface.
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace implements logger.Interface.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	l.metrics.ObserveQuery(operation(sql), elapsed, ignoreNotFound(err))

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		l.log.ErrorContext(ctx, "query failed",
			slog.String("error", err.Error()),
			slog.String("sql", sql),
			slog.Duration("duration", elapsed),
			slog.Int64("rows", rows))
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		l.log.WarnContext(ctx, "slow query",
			slog.String("sql", sql),
			slog.Duration("duration", elapsed),
			slog.Duration("threshold", l.slowThreshold),
			slog.Int64("rows", rows))
	case l.level >= logger.Info:
		l.log.DebugContext(ctx, "query",
			slog.String("sql", sql),
			slog.Duration("duration", elapsed),
			slog.Int64("rows", rows))
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// operation returns the lower-cased leading SQL keyword.
func operation(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t("); i > 0 {
		sql = sql[:i]
	}
	switch op := strings.ToLower(sql); op {
	case "select", "insert", "update", "delete", "create", "alter", "drop", "pragma", "with":
		return op
	default:
		return "other"
	}
}
