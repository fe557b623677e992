package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/app"
	"github.com/JustVugg/msgboard/internal/config"
	"github.com/JustVugg/msgboard/internal/logging"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file (defaults are used when empty)")
		validate   = flag.Bool("validate", false, "Validate configuration and exit")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, cfg, logger); err != nil {
		logger.Fatal("msgboard failed", zap.Error(err))
	}

	logger.Info("msgboard shutdown complete")
}

func run(ctx context.Context, configPath string, cfg *config.Config, logger *zap.Logger) error {
	a := app.New(cfg, logger)
	if err := a.Listen(); err != nil {
		return err
	}

	if cfg.Server.HotReload && configPath != "" {
		err := config.Watch(configPath, logger, ctx.Done(), func(newCfg *config.Config) {
			a.Reload(newCfg)
		})
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	logger.Info("msgboard starting",
		zap.String("version", Version),
		zap.Stringer("web", a.Server().Addr()),
		zap.Stringer("daemon", a.Daemon().Addr()),
		zap.String("store", a.Store().Path()),
	)

	return a.Run(ctx)
}

func printVersion() {
	fmt.Printf("msgboard v%s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
