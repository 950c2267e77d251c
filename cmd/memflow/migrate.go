package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/memflow/memflow/config"
	"github.com/memflow/memflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator(subargs, func(m *migration.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		})
	case "down":
		withMigrator(subargs, func(m *migration.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			fmt.Println("Rolled back last migration")
			return nil
		})
	case "version":
		withMigrator(subargs, func(m *migration.Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Printf("Version: %d, Dirty: %v\n", version, dirty)
			return nil
		})
	case "force":
		if len(subargs) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: memflow migrate force <version>")
			os.Exit(1)
		}
		version, err := strconv.Atoi(subargs[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid version: %s\n", subargs[0])
			os.Exit(1)
		}
		withMigrator(subargs[1:], func(m *migration.Migrator) error {
			if err := m.Force(version); err != nil {
				return err
			}
			fmt.Printf("Forced version to %d\n", version)
			return nil
		})
	case "reset":
		withMigrator(subargs, func(m *migration.Migrator) error {
			if err := m.DownAll(); err != nil {
				return err
			}
			fmt.Println("All migrations rolled back")
			return nil
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// withMigrator creates a migrator from flags, runs fn, and closes it.
func withMigrator(args []string, fn func(*migration.Migrator) error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	fs.Parse(args)

	migrationCfg := migration.Config{
		DatabaseType: migration.DatabaseType(*dbType),
		DatabaseURL:  *dbURL,
	}

	// db-type 与 db-url 未显式给出时从配置文件读取
	if *dbType == "" || *dbURL == "" {
		loader := config.NewLoader()
		if *configPath != "" {
			loader = loader.WithConfigPath(*configPath)
		}
		cfg, err := loader.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if *dbType == "" {
			migrationCfg.DatabaseType = migration.DatabaseType(cfg.Database.Driver)
		}
		if *dbURL == "" {
			migrationCfg.DatabaseURL = cfg.Database.DSN()
		}
	}

	migrator, err := migration.NewMigrator(migrationCfg, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := fn(migrator); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  memflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  version   Show current migration version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  memflow migrate up
  memflow migrate up --config /etc/memflow/config.yaml
  memflow migrate down
  memflow migrate force 0
  memflow migrate reset`)
}
