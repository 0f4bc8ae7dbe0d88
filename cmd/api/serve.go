package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"ivr-platform/internal/config"
	"ivr-platform/pkg/logger"
	"ivr-platform/pkg/utils"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and operator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.IVR.CacheDriver == config.CacheDriverRedis {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()
	}

	app, err := newApp(cfg, db, rdb)
	if err != nil {
		return err
	}
	defer app.conversations.Shutdown()

	go app.conversations.RunJanitor(rootCtx, janitorInterval(cfg.IVR.IdleTimeout), app.webhooks.Calls.FinalizeCall)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, app, func(ctx context.Context) error {
		return utils.Ping(ctx, db, 2*time.Second)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Gather webhooks park for up to the turn timeout.
		WriteTimeout: cfg.IVR.TurnTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "handler", cfg.IVR.Handler, "cache", cfg.IVR.CacheDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
	return nil
}

func janitorInterval(idle time.Duration) time.Duration {
	every := idle / 4
	if every < time.Minute {
		every = time.Minute
	}
	return every
}

// openDB is shared by the commands that only need storage.
func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PoolOptions{MaxConns: cfg.DB.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	return db, nil
}
