package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/amnsfrn/Store/internal/cache"
	"github.com/amnsfrn/Store/internal/config"
	"github.com/amnsfrn/Store/internal/httpapi"
	"github.com/amnsfrn/Store/internal/service"
	"github.com/amnsfrn/Store/internal/store"
	filestore "github.com/amnsfrn/Store/internal/store/file"
	"github.com/amnsfrn/Store/internal/store/memory"
	pgstore "github.com/amnsfrn/Store/internal/store/postgres"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	case cfg.DataDir != "":
		fs, err := filestore.Open(cfg.DataDir, logger)
		if err != nil {
			logger.Fatal("data dir unusable", zap.String("dir", cfg.DataDir), zap.Error(err))
		}
		repo = fs
		logger.Info("repository: file", zap.String("dir", cfg.DataDir))
	default:
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory (seeded)")
	}

	searchCache := cache.SearchCache(cache.NoopSearchCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSearchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop search cache", zap.Error(err))
		} else {
			searchCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("search cache: redis")
		}
	} else {
		logger.Info("search cache: noop")
	}

	svc := service.New(repo, searchCache, time.Duration(cfg.SearchCacheTTLSeconds)*time.Second, logger)
	api := httpapi.New(svc, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("till backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}
