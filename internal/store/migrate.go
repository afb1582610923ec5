package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Migrator applies the embedded goose migrations.
type Migrator struct {
	db  *sql.DB
	log *zap.Logger
}

// NewMigrator prepares goose for Postgres.
func NewMigrator(db *sql.DB, log *zap.Logger) (*Migrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log.Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	return &Migrator{db: db, log: log}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.log.Info("applying database migrations")
	if err := goose.UpContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	v, err := m.Version(ctx)
	if err != nil {
		return err
	}
	m.log.Info("migrations applied", zap.Int64("version", v))
	return nil
}

// Version reports the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		return 0, fmt.Errorf("get migration version: %w", err)
	}
	return v, nil
}

type gooseLogger struct {
	s *zap.SugaredLogger
}

func (g gooseLogger) Printf(format string, v ...any) { g.s.Infof(format, v...) }
func (g gooseLogger) Fatalf(format string, v ...any) { g.s.Fatalf(format, v...) }
