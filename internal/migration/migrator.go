package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// DatabaseType selects the migration dialect.
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// Config holds migrator configuration.
type Config struct {
	// DatabaseType is one of postgres, mysql, sqlite.
	DatabaseType DatabaseType

	// DatabaseURL is the driver connection string.
	DatabaseURL string

	// TableName is the migrations bookkeeping table. Defaults to
	// schema_migrations.
	TableName string
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	config  Config
	migrate *migrate.Migrate
	db      *sql.DB
	logger  *zap.Logger
}

// NewMigrator opens the database and prepares the embedded migration source.
func NewMigrator(cfg Config, logger *zap.Logger) (*Migrator, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	dbDriver, err := databaseDriver(cfg, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	srcFS, srcPath, err := sourceFS(cfg.DatabaseType)
	if err != nil {
		db.Close()
		return nil, err
	}
	src, err := iofs.New(srcFS, srcPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), dbDriver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{
		config:  cfg,
		migrate: m,
		db:      db,
		logger:  logger.With(zap.String("component", "migrator")),
	}, nil
}

func openDatabase(cfg Config) (*sql.DB, error) {
	var driverName string
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		driverName = "postgres"
	case DatabaseTypeMySQL:
		driverName = "mysql"
	case DatabaseTypeSQLite:
		driverName = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}

	db, err := sql.Open(driverName, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func databaseDriver(cfg Config, db *sql.DB) (database.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeSQLite:
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}

func sourceFS(dbType DatabaseType) (fs.FS, string, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return postgresFS, "migrations/postgres", nil
	case DatabaseTypeMySQL:
		return mysqlFS, "migrations/mysql", nil
	case DatabaseTypeSQLite:
		return sqliteFS, "migrations/sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	start := time.Now()
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	m.logger.Info("migrations applied", zap.Duration("duration", time.Since(start)))
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down() error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// DownAll rolls back all migrations.
func (m *Migrator) DownAll() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Steps applies (n > 0) or rolls back (n < 0) n migrations.
func (m *Migrator) Steps(n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Version returns the current version and whether the schema is dirty.
// A never-migrated database reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the version without running migrations. Recovery tool for a
// dirty schema state.
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Close releases the migrate instance and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
