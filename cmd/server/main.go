// Command server runs the ronin API.
//
// Configuration comes from config.yaml (or the file named by -config) and
// RONIN_* environment variables; see internal/config for the keys. The
// only required setting is RONIN_AUTH_JWT_SECRET.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/sakif/ronin/internal/config"
	"github.com/sakif/ronin/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
