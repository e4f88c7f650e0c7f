package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kevin07696/esim-checkout/internal/adapters/postgres"
)

var flags = flag.NewFlagSet("migrate", flag.ExitOnError)

func main() {
	flags.Usage = usage
	_ = flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		flags.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	if err := run(databaseURL, args[0], args[1:], logger); err != nil {
		logger.Fatal("Migration failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func run(databaseURL, command string, args []string, logger *zap.Logger) error {
	m, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer postgres.CloseMigrator(m, logger)

	switch command {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "reset":
		err = m.Down()
	case "force":
		if len(args) != 1 {
			return errors.New("force needs a VERSION")
		}
		v, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], convErr)
		}
		err = m.Force(v)
	case "version":
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("No migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("Ledger schema version", zap.String("command", command), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func usage() {
	fmt.Print(`Usage: migrate COMMAND

Reads DATABASE_URL from the environment or .env and runs the embedded
payment ledger migrations.

Commands:
    up              Migrate to the most recent version
    down            Roll back one version
    reset           Roll back all migrations
    force VERSION   Mark VERSION as applied and clear the dirty flag
    version         Print the current version
`)
}
