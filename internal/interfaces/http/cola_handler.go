package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/inhdata/sunat-validador/internal/application/dto"
	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

// RoleProducer es el único rol autorizado a encolar.
const RoleProducer = "producer"

// ColaHandler expone la interfaz del productor sobre la cola.
type ColaHandler struct {
	queueRepo repository.QueueRepository
	log       *logger.Logger
}

// NewColaHandler construye el handler.
func NewColaHandler(queueRepo repository.QueueRepository, log *logger.Logger) *ColaHandler {
	return &ColaHandler{queueRepo: queueRepo, log: log}
}

// Encolar registra una solicitud de validación (status queued, siempre).
// Una factura con validación pendiente responde 409.
func (h *ColaHandler) Encolar(c *fiber.Ctx) error {
	if GetRole(c) != RoleProducer {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "solo el productor puede encolar"})
	}

	var req dto.EncolarRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "body JSON inválido"})
	}
	if req.IdFactura <= 0 || req.RUCEmisor == "" || req.TipoDocumento == "" || req.Serie == "" || req.Numero == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "MISSING_FIELDS", Message: "id_factura, ruc_emisor, tipo_documento, serie y numero son requeridos"})
	}

	item := &entity.QueueItem{
		IdFactura:     req.IdFactura,
		RUCEmisor:     req.RUCEmisor,
		RUCReceptor:   req.RUCReceptor,
		TipoDocumento: req.TipoDocumento,
		Serie:         req.Serie,
		Numero:        req.Numero,
	}
	if req.FechaEmision != "" {
		fecha, err := time.Parse("2006-01-02", req.FechaEmision)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_DATE", Message: "fecha_emision debe ser aaaa-mm-dd"})
		}
		item.FechaEmision = &fecha
	}
	if req.ImporteTotal != "" {
		importe, err := decimal.NewFromString(req.ImporteTotal)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_AMOUNT", Message: "importe_total debe ser numérico"})
		}
		item.ImporteTotal = &importe
	}

	if err := h.queueRepo.Enqueue(c.Context(), item); err != nil {
		if errors.Is(err, entity.ErrFacturaPendiente) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "ALREADY_PENDING", Message: err.Error()})
		}
		h.log.Error().Err(err).Int64("id_factura", req.IdFactura).Msg("encolar factura")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "no se pudo encolar"})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.EncolarResponse{
		IdQueue:    item.IdQueue,
		IdFactura:  item.IdFactura,
		Status:     item.Status,
		EnqueuedAt: item.EnqueuedAt,
	})
}

// Resumen devuelve el conteo de items por status.
func (h *ColaHandler) Resumen(c *fiber.Ctx) error {
	counts, err := h.queueRepo.CountByStatus(c.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("resumen de cola")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "no se pudo leer la cola"})
	}
	return c.JSON(dto.ResumenColaResponse{
		Queued:     counts[entity.StatusQueued],
		Processing: counts[entity.StatusProcessing],
		Done:       counts[entity.StatusDone],
		Error:      counts[entity.StatusError],
	})
}
