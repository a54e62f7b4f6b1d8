package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/deploywatch/internal/app/migrate"
	"github.com/splax/deploywatch/pkg/config"
	"github.com/splax/deploywatch/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg := config.LoadDaemonConfig()
	log := logger.New("migrate", slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command, "source", runner.Source())
}
