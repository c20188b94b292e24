// Package server assembles the Atrium service: configuration, stores,
// the orchestration pipeline and the HTTP surface. It lives in pkg/ so
// downstream distributions can embed the server and layer their own
// middleware on Handler.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/atriumhq/atrium/internal/api"
	"github.com/atriumhq/atrium/internal/api/handlers"
	"github.com/atriumhq/atrium/internal/composer"
	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/directory"
	"github.com/atriumhq/atrium/internal/engine"
	"github.com/atriumhq/atrium/internal/erp"
	"github.com/atriumhq/atrium/internal/logging"
	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/internal/pipeline"
	"github.com/atriumhq/atrium/internal/resolver"
	"github.com/atriumhq/atrium/internal/router"
	"github.com/atriumhq/atrium/internal/skills"
	"github.com/atriumhq/atrium/internal/telemetry"
	"github.com/atriumhq/atrium/internal/transport"
	"github.com/atriumhq/atrium/internal/usage"
)

// Server holds the initialized Atrium service.
type Server struct {
	Handler   http.Handler
	Directory *directory.Directory
	Config    *config.Config
	Log       *logging.Logger

	// ShutdownFunc flushes telemetry and closes stores on graceful
	// shutdown.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and initializes every
// component.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(os.Stderr, cfg.LogLevel)
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig initializes the service with explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store, err := directory.OpenSQLite(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open agent store: %w", err)
	}
	dir := directory.New(store, log)
	if err := dir.SeedTemplates(ctx, "default"); err != nil {
		return nil, fmt.Errorf("seed agent templates: %w", err)
	}
	log.Info().Str("path", cfg.Database.Path).Msg("agent directory ready")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	meter := usage.NewMeter(rdb, cfg.Usage.MonthlyTokenLimit, nil, log)

	res := resolver.New(cfg)
	modelTransport := transport.NewOpenAIClient(cfg.Model.Endpoint, cfg.Model.APIKey, cfg.Model.Model, log)

	executor := erp.NewExecutor(erp.NewHTTPBackend(), log)
	registry, err := skills.NewRegistry(log, skills.Builtin(executor, nil)...)
	if err != nil {
		return nil, fmt.Errorf("build skill registry: %w", err)
	}
	log.Info().Strs("skills", registry.Names()).Msg("skill registry ready")

	m := metrics.New()
	p := pipeline.New(
		router.New(modelTransport, log),
		composer.New(res, nil, log),
		engine.New(modelTransport, registry, cfg.Engine.MaxRounds, log),
		dir,
		meter,
		res,
		m,
		log,
	)

	h := handlers.New(dir, p, meter, log)

	return &Server{
		Handler:   api.NewRouter(h, m, log),
		Directory: dir,
		Config:    cfg,
		Log:       log,
		ShutdownFunc: func(ctx context.Context) error {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("store close failed")
			}
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("redis close failed")
			}
			return telemetryShutdown(ctx)
		},
	}, nil
}
