package repository

import (
	"context"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
)

// SnapshotRepository acceso a inh.sunat_estado_actual (una fila por factura).
type SnapshotRepository interface {
	// GetByFactura devuelve el estado actual de la factura, o nil si aún no se consultó.
	GetByFactura(ctx context.Context, idFactura int64) (*entity.CurrentState, error)

	// Insert crea la fila en la primera consulta de la factura.
	Insert(ctx context.Context, estado *entity.CurrentState) error

	// Update sobreescribe el estado vigente; fecha_primera_consulta no se toca.
	Update(ctx context.Context, estado *entity.CurrentState) error
}
