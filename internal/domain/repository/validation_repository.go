package repository

import (
	"context"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
)

// ValidationRepository acceso al histórico append-only inh.sunat_validacion.
type ValidationRepository interface {
	// Insert agrega un registro. El histórico nunca se actualiza ni borra.
	Insert(ctx context.Context, rec *entity.ValidationRecord) error

	// ListByFactura devuelve hasta limit registros de una factura,
	// ordenados por fecha de consulta descendente (más reciente primero).
	ListByFactura(ctx context.Context, idFactura int64, limit int) ([]*entity.ValidationRecord, error)
}
