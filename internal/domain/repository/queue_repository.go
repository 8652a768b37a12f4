package repository

import (
	"context"
	"time"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
)

// QueueRepository acceso a inh.api_sunat_queue.
//
// Claim es la única operación con exclusión mutua entre instancias: la
// implementación debe garantizar que dos workers concurrentes nunca reciben
// el mismo item (update condicional sobre el status previo).
type QueueRepository interface {
	// Enqueue inserta un item con status=queued. Retorna
	// entity.ErrFacturaPendiente si la factura ya está queued/processing.
	Enqueue(ctx context.Context, item *entity.QueueItem) error

	// Claim toma hasta batchSize items elegibles (queued con backoff vencido,
	// o processing estancado más allá de visibilityTimeout), los pasa a
	// processing incrementando attempts, y los devuelve.
	Claim(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]*entity.QueueItem, error)

	// MarkDone transición terminal processing -> done; limpia last_error.
	// Retorna entity.ErrItemNoEnProceso si la fila ya no está en processing.
	MarkDone(ctx context.Context, idQueue int64) error

	// MarkError transición terminal processing -> error con el detalle.
	// Retorna entity.ErrItemNoEnProceso si la fila ya no está en processing.
	MarkError(ctx context.Context, idQueue int64, lastError string) error

	// Requeue devuelve el item a queued tras un fallo de transporte,
	// registrando el error y la hora mínima del próximo intento.
	// Retorna entity.ErrItemNoEnProceso si la fila ya no está en processing.
	Requeue(ctx context.Context, idQueue int64, lastError string, nextAttemptAt time.Time) error

	// CountByStatus devuelve el conteo de items por status (para reporting).
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
