// coachctl is the operator CLI for the guest coaching database.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/ashureev/guest-coach/internal/config"
	"github.com/ashureev/guest-coach/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database:", err)
		os.Exit(1)
	}

	app := newCLIApp(repo, os.Stdout)
	runErr := app.Run(os.Args)
	if closeErr := repo.Close(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "close database:", closeErr)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}
