// Package main applies the embedded SQL migrations to DATABASE_URL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/archon-research/stl-exchange/db/migrations"
	"github.com/archon-research/stl-exchange/db/migrator"
	"github.com/archon-research/stl-exchange/internal/pkg/env"
)

func main() {
	_ = godotenv.Load(".env")

	dbURL := flag.String("db", "", "PostgreSQL connection URL")
	list := flag.Bool("list", false, "List applied migrations and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))

	if *dbURL == "" {
		*dbURL = env.Get("DATABASE_URL", "")
	}
	if *dbURL == "" {
		logger.Error("database URL not provided (use -db flag or DATABASE_URL env var)")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)

	if *list {
		applied, err := m.ListApplied(ctx)
		if err != nil {
			logger.Error("failed to list migrations", "error", err)
			os.Exit(1)
		}
		for _, name := range applied {
			logger.Info("applied", "migration", name)
		}
		return
	}

	if err := m.ApplyAll(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("all migrations up to date")
}
