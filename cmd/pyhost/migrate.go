package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/pyhost/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate handles `pyhost migrate <subcommand>`.
func runMigrate(args []string) {
	os.Exit(migrateMain(context.Background(), args, os.Stdout, os.Stderr))
}

// migrateMain returns the exit code: 0 ok, 1 failed, 2 usage error.
func migrateMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return 2
	}
	sub, rest := args[0], args[1:]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(stdout)
		return 0
	}

	// 位置参数（steps/force 的数值）在 flag 之前
	var n int
	switch sub {
	case "up", "down", "version", "status":
	case "steps", "force":
		if len(rest) < 1 {
			fmt.Fprintf(stderr, "migrate %s requires a number\n", sub)
			return 2
		}
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			fmt.Fprintf(stderr, "invalid number %q: %v\n", rest[0], err)
			return 2
		}
		n, rest = v, rest[1:]
	default:
		fmt.Fprintf(stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage(stderr)
		return 2
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	m, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create migrator: %v\n", err)
		return 1
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)

	switch sub {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "steps":
		err = cli.RunSteps(ctx, n)
	case "force":
		err = cli.RunForce(ctx, n)
	case "version":
		err = cli.RunVersion(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Migration %s failed: %v\n", sub, err)
		return 1
	}
	return 0
}

// createMigrator prefers --db-type/--db-url and falls back to the config.
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL, logger)
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg.Database, logger)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  pyhost migrate <subcommand> [args] [options]

Subcommands:
  up            Apply all pending migrations
  down          Roll back the last migration
  steps <n>     Apply n migrations (negative rolls back)
  force <v>     Force the recorded version (clears dirty state)
  version       Show current migration version
  status        Show migration status
  help          Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  pyhost migrate up
  pyhost migrate steps -1 --config /etc/pyhost/pyhost.yaml
  pyhost migrate status --db-type sqlite --db-url "sqlite://pyhost.db"`)
}
