package database

import (
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/securelens/securelens/internal/domain/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrateLogger routes migrate's progress output through zap.
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}

// Migrate applies every pending schema migration. It is a no-op when the
// schema is already current.
func Migrate(databaseURL string, logger *zap.Logger) (uint, error) {
	if databaseURL == "" {
		return 0, errors.NewConfigurationError("database.url", "a database URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, fmt.Errorf("opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return 0, errors.NewExternalError("postgres", "failed to initialize migrations").WithCause(err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("failed to close migrator", zap.NamedError("source_error", srcErr), zap.NamedError("database_error", dbErr))
		}
	}()
	m.Log = migrateLogger{logger: logger.Sugar()}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return 0, errors.NewInternalError("failed to apply migrations").WithCause(err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return version, errors.NewInvariantError("DIRTY_SCHEMA", fmt.Sprintf("schema version %d is dirty", version))
	}

	logger.Info("database schema is current", zap.Uint("version", version))
	return version, nil
}
