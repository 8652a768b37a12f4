package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/inhdata/sunat-validador/internal/application/dispatcher"
	"github.com/inhdata/sunat-validador/internal/infrastructure/postgres"
	"github.com/inhdata/sunat-validador/internal/infrastructure/sunat"
	"github.com/inhdata/sunat-validador/pkg/config"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando worker de validación SUNAT")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	// Cache de token: compartido en Redis si hay REDIS_ADDR, si no en memoria.
	var tokens sunat.TokenCache = sunat.NewMemoryTokenCache()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("conexión a Redis")
		}
		defer rdb.Close()
		tokens = sunat.NewRedisTokenCache(rdb, cfg.App.Name+":token")
		log.Info().Str("addr", cfg.Redis.Addr).Msg("cache de token compartido en Redis")
	}

	cliente := sunat.NewClient(sunat.Config{
		ClientID:     cfg.SUNAT.ClientID,
		ClientSecret: cfg.SUNAT.ClientSecret,
		RUC:          cfg.SUNAT.RUC,
		BaseURL:      cfg.SUNAT.BaseURL,
		TokenBaseURL: cfg.SUNAT.TokenBaseURL,
		Scope:        cfg.SUNAT.Scope,
		Timeout:      cfg.SUNAT.Timeout(),
	}, tokens, log)

	queueRepo := postgres.NewQueueRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	var destino dispatcher.DestinoSyncer
	if cfg.Worker.SyncDestino {
		destino = postgres.NewDestinoRepository(pool, "")
		log.Info().Msg("sincronización de tabla destino habilitada")
	}

	d := dispatcher.New(queueRepo, txRunner, cliente, destino, dispatcher.Config{
		BatchSize:         cfg.Worker.Batch,
		Workers:           cfg.Worker.Threads,
		MaxAttempts:       cfg.Worker.RetryMax,
		PollInterval:      cfg.Worker.PollInterval(),
		VisibilityTimeout: cfg.Worker.VisibilityTimeout(),
	}, log)

	if err := d.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker terminó con error")
	}
}
