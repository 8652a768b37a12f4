package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/inhdata/sunat-validador/internal/infrastructure/postgres"
	httpiface "github.com/inhdata/sunat-validador/internal/interfaces/http"
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
		Msg("iniciando API de cola SUNAT")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	queueRepo := postgres.NewQueueRepository(pool)
	valRepo := postgres.NewValidationRepository(pool)
	snapRepo := postgres.NewSnapshotRepository(pool)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())

	httpiface.SetupRoutes(app, httpiface.RouterDeps{
		Cola:      httpiface.NewColaHandler(queueRepo, log),
		Consulta:  httpiface.NewConsultaHandler(snapRepo, valRepo, log),
		JWTSecret: cfg.JWT.Secret,
		PingDB:    pool.Ping,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP")
			stop()
		}
	}()
	log.Info().Str("addr", cfg.HTTP.Addr()).Msg("API escuchando")

	<-ctx.Done()
	log.Info().Msg("apagando API")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
		os.Exit(1)
	}
}
