// Command filevault-server starts the encrypted-file metadata HTTP server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/a-morozov/filevault/internal/crypto"
	"github.com/a-morozov/filevault/internal/limiter"
	"github.com/a-morozov/filevault/internal/migrate"
	"github.com/a-morozov/filevault/internal/repository"
	"github.com/a-morozov/filevault/internal/repository/memory"
	"github.com/a-morozov/filevault/internal/repository/postgres"
	"github.com/a-morozov/filevault/internal/server/httpapi"
	"github.com/a-morozov/filevault/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the HTTP server.
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (empty: in-memory store)")
	jwtKey := flag.String("jwt-key", "", "HS256 verification key (required)")
	limWindow := flag.Duration("limiter-window", 15*time.Minute, "failed decrypt counting window")
	limFails := flag.Int("limiter-max-fails", 5, "failed decrypts before a temporary block")
	limBlock := flag.Duration("limiter-block", 15*time.Minute, "block duration after too many failed decrypts")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	if *jwtKey == "" {
		logger.Fatal("missing jwt verification key (--jwt-key)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo repository.FileRepository
	if *dsn != "" {
		if err := migrate.Up(ctx, *dsn); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("postgres.New", zap.Error(err))
		}
		defer db.Close()
		repo = postgres.NewFileRepo(db)
	} else {
		logger.Warn("no DSN provided, using in-memory store")
		repo = memory.NewFileRepo()
	}

	lim := limiter.NewLRU(65536, *limWindow, *limFails, *limBlock)
	files := service.NewFileService(repo, crypto.NewAEADGateway(), lim, logger)

	handler := httpapi.NewHandler(files, logger)
	srv := httpapi.New(*addr, handler, []byte(*jwtKey), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
