package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

const tableName = "schema_migrations"

// gooseLogger forwards goose output to slog
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf does not exit; Up returns the error to the caller instead
func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func configure(logger *slog.Logger) error {
	goose.SetBaseFS(embedded)
	goose.SetTableName(tableName)
	goose.SetLogger(&gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// Up applies all pending migrations
func Up(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := configure(logger); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, db, "sql"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	logger.Info("Database migrations applied", slog.Int64("version", version))
	return nil
}

// Reset rolls back every migration. Used by integration tests.
func Reset(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := configure(logger); err != nil {
		return err
	}

	if err := goose.ResetContext(ctx, db, "sql"); err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}
