package main

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ivr-platform/internal/audit"
	"ivr-platform/internal/auth"
	"ivr-platform/internal/calls"
	"ivr-platform/internal/config"
	"ivr-platform/internal/httpapi"
	"ivr-platform/internal/ivr"
	"ivr-platform/internal/routing"
	"ivr-platform/internal/telephony"
	"ivr-platform/internal/texts"
	"ivr-platform/internal/users"
)

// app holds the wired dependencies of one server process (no globals).
type app struct {
	cfg           config.Config
	webhooks      *telephony.WebhookHandler
	operator      httpapi.Handlers
	authManager   *auth.Manager
	conversations *telephony.Registry
}

func newApp(cfg config.Config, db *sql.DB, rdb *redis.Client) (*app, error) {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init: %w", err)
	}

	var cache calls.Cache
	switch cfg.IVR.CacheDriver {
	case config.CacheDriverRedis:
		cache = calls.NewRedisCache(rdb, cfg.IVR.CacheTTL)
	default:
		cache = calls.NewMemoryCache()
	}

	dir := users.NewPostgresDirectory(db)
	store := calls.NewStore(calls.NewPostgresRepo(db), cache, dir)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	handlers := ivr.NewRegistry()
	routing.Register(handlers)
	factory, err := handlers.Get(cfg.IVR.Handler)
	if err != nil {
		return nil, err
	}

	conversations := telephony.NewRegistry(cfg.IVR.IdleTimeout)
	return &app{
		cfg: cfg,
		webhooks: &telephony.WebhookHandler{
			Calls: store,
			Deps: ivr.Deps{
				Calls: store,
				Texts: texts.NewResolver(texts.NewPostgresRepo(db)),
				Users: dir,
			},
			Factory:       factory,
			Conversations: conversations,
			Tracker:       auditSvc,
			Renderer: telephony.Renderer{
				Voice:        cfg.IVR.Voice,
				Language:     cfg.IVR.Language,
				AudioBaseURL: cfg.IVR.AudioBaseURL,
			},
			TurnTimeout:     cfg.IVR.TurnTimeout,
			FallbackMessage: cfg.IVR.FallbackMessage,
		},
		operator: httpapi.Handlers{
			Auth:  authManager,
			Calls: store,
			Audit: auditSvc,
		},
		authManager:   authManager,
		conversations: conversations,
	}, nil
}
