package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/canfeed/backend/internal/config"
	"github.com/canfeed/backend/internal/logging"
	"github.com/canfeed/backend/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault().Fatal("failed to load config", zap.Error(err))
	}

	logger := logging.NewDefault()
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}
}
