package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/MrSnakeDoc/toposync/internal/app"
	"github.com/MrSnakeDoc/toposync/internal/config"
	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/version"
)

var (
	cli = kingpin.New("toposync", "Periodic topology reconciliation service.")

	catalogFile = cli.Flag("catalog.file", "Catalog file to import (overrides TOPOSYNC_CATALOG_FILE).").String()
	logLevel    = cli.Flag("log.level", "Log level (overrides TOPOSYNC_LOG_LEVEL).").Enum("debug", "info", "warn", "error")

	serveCmd = cli.Command("serve", "Run the scheduler and the admin HTTP server.").Default()
	sweepCmd = cli.Command("sweep", "Run a single sweep and exit.")
)

func main() {
	cli.Version(fmt.Sprintf("%s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion))
	cli.HelpFlag.Short('h')
	command := kingpin.MustParse(cli.Parse(os.Args[1:]))

	cfg := config.Load()
	if *catalogFile != "" {
		cfg.CatalogFile = *catalogFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = loggerClient.Sync() }()

	switch command {
	case serveCmd.FullCommand():
		a, err := app.New(context.Background(), cfg, loggerClient)
		if err != nil {
			log.Fatalf("❌ toposync failed to start: %v", err)
		}
		if err := a.Run(); err != nil {
			log.Fatalf("❌ toposync failed: %v", err)
		}

	case sweepCmd.FullCommand():
		code := sweepOnce(cfg, loggerClient)
		_ = loggerClient.Sync()
		os.Exit(code)
	}
}

func sweepOnce(cfg *config.Config, loggerClient logger.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, loggerClient)
	if err != nil {
		loggerClient.Error("failed to initialize", logger.Error(err))
		return 1
	}

	report, err := a.SweepOnce(ctx)
	if err != nil {
		loggerClient.Error("sweep failed", logger.Error(err))
		return 1
	}
	loggerClient.Info("sweep complete",
		logger.String("sweep_id", report.SweepID),
		logger.Bool("changed", report.Changed()),
		logger.Bool("notified", report.Notified))
	return 0
}
