package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/flicky/storefront-api/internal/config"
	"github.com/flicky/storefront-api/internal/logger"
)

func main() {
	flag.Parse()
	args := flag.Args()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, logger.Options{Service: "storefront-migrate", Env: cfg.Log.Env, Level: cfg.Log.Level})

	if len(args) < 1 {
		log.Error("usage: migrate <up|down|version>")
		os.Exit(1)
	}

	m, err := migrate.New(cfg.DB.MigrationsPath, cfg.DB.DSN())
	if err != nil {
		log.Error("create migrate instance", "error", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	switch command := args[0]; command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no pending migrations")
			return
		}
		if err != nil {
			log.Error("migration up failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to roll back")
			return
		}
		if err != nil {
			log.Error("migration down failed", "error", err)
			os.Exit(1)
		}
		log.Info("migration rolled back")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info("no migrations applied yet")
			return
		}
		if err != nil {
			log.Error("read migration version", "error", err)
			os.Exit(1)
		}
		log.Info("current migration version", "version", version, "dirty", dirty)

	default:
		log.Error("unknown command", "command", command)
		os.Exit(1)
	}
}
