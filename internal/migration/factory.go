package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/config"
)

// DSN builds the connection string for a database section.
func DSN(cfg config.DatabaseConfig) (DatabaseType, string, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return "", "", err
	}
	switch dbType {
	case DatabaseTypeSQLite:
		// Name holds the file path
		return dbType, BuildDatabaseURL(dbType, "", 0, cfg.Name, "", "", ""), nil
	case DatabaseTypeMySQL:
		return dbType, BuildDatabaseURL(dbType, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, ""), nil
	default:
		return dbType, BuildDatabaseURL(dbType, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode), nil
	}
}

// NewMigratorFromConfig creates a migrator for the database section.
func NewMigratorFromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, dsn, err := DSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: dsn}, logger)
}

// NewMigratorFromURL creates a migrator from a dialect name and DSN.
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL}, logger)
}
