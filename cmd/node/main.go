package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uhyunpark/gridquote/params"
	"github.com/uhyunpark/gridquote/pkg/api"
	"github.com/uhyunpark/gridquote/pkg/app/core/boundary"
	"github.com/uhyunpark/gridquote/pkg/app/gridex"
	"github.com/uhyunpark/gridquote/pkg/crypto"
	"github.com/uhyunpark/gridquote/pkg/storage"
	"github.com/uhyunpark/gridquote/pkg/util"
	"go.uber.org/zap"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	boundary.ResizeCache(cfg.Node.QuoteCacheSize)

	// ---- Storage ----
	opts := gridex.Options{
		Logger:       logger,
		MaxBookDepth: cfg.API.MaxBookDepth,
		Domain:       crypto.DefaultDomain(),
	}
	opts.Domain.ChainID = big.NewInt(cfg.Node.ChainID)

	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		store, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		defer store.Close()
		opts.Store = store
		sugar.Infow("pebble_opened", "dir", cfg.Node.DataDir)
	} else {
		sugar.Info("no DATA_DIR - grids are kept in memory only")
	}

	if cfg.Node.WALFile != "" {
		wal, err := storage.NewFileWAL(cfg.Node.WALFile)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "file", cfg.Node.WALFile, "err", err)
		}
		defer func() {
			if err := wal.Close(); err != nil {
				sugar.Warnw("wal_close_failed", "file", cfg.Node.WALFile, "err", err)
			}
		}()
		opts.WAL = wal
	}

	// ---- App ----
	app, err := gridex.New(opts)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.API.CORSOrigins)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Addr, "cors_origins", cfg.API.CORSOrigins)
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"grids", len(app.Grids()),
		"chain_id", cfg.Node.ChainID,
		"max_book_depth", cfg.API.MaxBookDepth)

	// Periodic state digest so operators can compare replicas
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				sugar.Warnw("api_shutdown_failed", "err", err)
			}
			cancel()
			return
		case <-ticker.C:
			h := app.StateHash()
			sugar.Infow("state", "grids", len(app.Grids()), "hash", fmt.Sprintf("0x%x", h[:]))
		}
	}
}
