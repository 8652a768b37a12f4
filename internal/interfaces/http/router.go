package http

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// RouterDeps dependencias del router.
type RouterDeps struct {
	Cola      *ColaHandler
	Consulta  *ConsultaHandler
	JWTSecret string
	PingDB    func(ctx context.Context) error
}

// SetupRoutes registra las rutas de la API. Todo /api/v1 exige JWT;
// /health queda abierto para probes.
func SetupRoutes(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if deps.PingDB != nil {
			if err := deps.PingDB(c.Context()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "db": err.Error()})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", AuthMiddleware(deps.JWTSecret))

	api.Post("/cola", deps.Cola.Encolar)
	api.Get("/cola/resumen", deps.Cola.Resumen)

	api.Get("/facturas/:id/estado", deps.Consulta.Estado)
	api.Get("/facturas/:id/historial", deps.Consulta.Historial)
}
