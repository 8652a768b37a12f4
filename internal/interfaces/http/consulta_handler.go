package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/inhdata/sunat-validador/internal/application/dto"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

// ConsultaHandler lecturas de reporting sobre snapshot e histórico.
// Solo lectura: las tres tablas las muta únicamente el worker.
type ConsultaHandler struct {
	snapRepo repository.SnapshotRepository
	valRepo  repository.ValidationRepository
	log      *logger.Logger
}

// NewConsultaHandler construye el handler.
func NewConsultaHandler(snapRepo repository.SnapshotRepository, valRepo repository.ValidationRepository, log *logger.Logger) *ConsultaHandler {
	return &ConsultaHandler{snapRepo: snapRepo, valRepo: valRepo, log: log}
}

// Estado devuelve la fila de snapshot de una factura.
func (h *ConsultaHandler) Estado(c *fiber.Ctx) error {
	idFactura, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || idFactura <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_ID", Message: "id de factura inválido"})
	}

	estado, err := h.snapRepo.GetByFactura(c.Context(), idFactura)
	if err != nil {
		h.log.Error().Err(err).Int64("id_factura", idFactura).Msg("leer estado actual")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "no se pudo leer el estado"})
	}
	if estado == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "la factura no tiene consultas registradas"})
	}
	return c.JSON(dto.NewEstadoResponse(estado))
}

// Historial devuelve las validaciones de una factura, más reciente primero.
func (h *ConsultaHandler) Historial(c *fiber.Ctx) error {
	idFactura, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || idFactura <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_ID", Message: "id de factura inválido"})
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 200 {
		limit = 20
	}

	registros, err := h.valRepo.ListByFactura(c.Context(), idFactura, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("id_factura", idFactura).Msg("leer historial")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "no se pudo leer el historial"})
	}

	resp := make([]dto.ValidacionResponse, 0, len(registros))
	for _, rec := range registros {
		resp = append(resp, dto.NewValidacionResponse(rec))
	}
	return c.JSON(resp)
}
