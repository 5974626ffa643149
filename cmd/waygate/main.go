package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/waygate/bridge/internal/config"
	"github.com/waygate/bridge/internal/lifecycle"
	"github.com/waygate/bridge/internal/logging"
	"github.com/waygate/bridge/internal/publisher"
	"github.com/waygate/bridge/internal/server"
	"github.com/waygate/bridge/internal/whatsapp"
)

// Version information (set via build flags).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "waygate.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting waygate",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("addr", cfg.Addr()),
		zap.String("credential_dir", cfg.WhatsApp.CredentialDir))

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
	logger.Info("waygate stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	creds := whatsapp.NewCredentialStore(cfg.WhatsApp.CredentialDir, logging.WhatsAppLogger(logger))
	if err := creds.Ensure(); err != nil {
		return fmt.Errorf("prepare credential store: %w", err)
	}

	factory, err := whatsapp.NewFactory(whatsapp.FactoryConfig{
		Credentials:  creds,
		Logger:       logging.WhatsAppLogger(logger),
		QRInTerminal: cfg.Dev.QRInTerminal,
	})
	if err != nil {
		return fmt.Errorf("create session factory: %w", err)
	}

	manager, err := lifecycle.NewManager(lifecycle.Config{
		Factory:        factory,
		Credentials:    creds,
		Publisher:      publisher.NewConsole(logging.LifecycleLogger(logger)),
		Logger:         logging.LifecycleLogger(logger),
		ReconnectDelay: cfg.ReconnectDelay(),
		RetryDelay:     cfg.RetryDelay(),
	})
	if err != nil {
		return fmt.Errorf("create lifecycle manager: %w", err)
	}

	httpServer := server.New(server.Config{
		Addr:           cfg.Addr(),
		Logger:         logging.HTTPLogger(logger),
		Manager:        manager,
		UploadDir:      cfg.Upload.Dir,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	})
	httpServer.Start()

	if cfg.WhatsApp.AutoConnect {
		// A failed first connect schedules its own retry; startup
		// continues either way.
		if _, err := manager.RequestConnect(ctx); err != nil {
			logger.Warn("initial connect failed", zap.Error(err))
		}
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping http server", zap.Error(err))
	}
	if _, err := manager.RequestDisconnect(shutdownCtx, lifecycle.DisconnectOptions{}); err != nil {
		logger.Error("error disconnecting session", zap.Error(err))
	}
	return nil
}
