// Command talkmate-server serves the companion HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/talkmate/companion/internal/auth"
	"github.com/talkmate/companion/internal/config"
	"github.com/talkmate/companion/internal/crypto"
	"github.com/talkmate/companion/internal/limiter"
	"github.com/talkmate/companion/internal/repository"
	"github.com/talkmate/companion/internal/repository/backend"
	"github.com/talkmate/companion/internal/repository/postgres"
	httpserver "github.com/talkmate/companion/internal/server/http"
	"github.com/talkmate/companion/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens storage lazily and serves HTTP until signalled.
func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	gw, err := backend.Open(cfg.StorageURL, backend.Options{
		Database: cfg.StorageDB,
		Timeout:  cfg.ConnectTimeout.D(),
	}, logger)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}

	if cfg.Check {
		code := check(gw, cfg.ConnectTimeout.D(), logger)
		_ = logger.Sync()
		os.Exit(code)
	}

	key := []byte(cfg.JWTKey)
	if len(key) == 0 {
		// Only reachable with -dev; tokens die with the process.
		if key, err = crypto.RandBytes(32); err != nil {
			logger.Fatal("generate dev signing key", zap.Error(err))
		}
		logger.Warn("no jwt key configured, using a random one (dev)")
	}
	tokens, err := auth.NewManager(key, cfg.JWTAlgorithm, cfg.AccessTTL.D(), gw)
	if err != nil {
		logger.Fatal("token manager", zap.Error(err))
	}

	var lim limiter.Limiter
	if pg, ok := gw.(*postgres.Gateway); ok {
		lim = limiter.NewPG(pg.Querier(), cfg.Limiter())
	} else {
		lim = limiter.NewMemory(cfg.Limiter())
	}

	// Services
	authSvc := service.NewAuthService(gw, tokens, lim, logger)
	memorySvc := service.NewMemoryService(gw, logger)
	reminderSvc := service.NewReminderService(gw, logger)

	if cfg.PollerKey == "" {
		logger.Info("poller key not set; internal reminder routes disabled")
	}
	app := httpserver.New(authSvc, memorySvc, reminderSvc, gw, cfg.PollerKey, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
			_ = srv.Close()
		}
		cancel()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			code = 1
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := gw.Close(closeCtx); err != nil {
		logger.Warn("close storage", zap.Error(err))
	}
	cancel()

	logger.Info("shutdown complete")
	if code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// check dials storage once and reports the result as an exit code.
func check(gw repository.Gateway, timeout time.Duration, logger *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	defer func() { _ = gw.Close(context.Background()) }()

	if err := gw.Ping(ctx); err != nil {
		logger.Error("storage check failed", zap.Error(err))
		return 1
	}
	logger.Info("storage check ok")
	return 0
}
