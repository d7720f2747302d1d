package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/securag/securag/internal/bootstrap"
	"github.com/securag/securag/internal/config"
	"github.com/securag/securag/internal/handler"
	"github.com/securag/securag/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zl := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.File,
		Production: cfg.Log.Production,
	})
	defer func() { _ = zl.Sync() }()

	container, err := bootstrap.New(ctx, cfg, bootstrap.Options{Tracing: true}, zl)
	if err != nil {
		zl.Fatal("failed to initialize pipeline", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			zl.Warn("failed to release resources", zap.Error(err))
		}
	}()

	router := handler.NewRouter(handler.RouterOptions{
		Engine:   container.Engine,
		Provider: cfg.AI.Provider,
		Server:   cfg.Server,
		Gatherer: container.Registry,
		Logger:   zl,
	})

	if err := startServer(ctx, cfg.Server, router, zl); err != nil {
		zl.Error("server error", zap.Error(err))
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, zl *zap.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	zl.Info("SecuRAG API listening", zap.String("addr", serverCfg.Addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
