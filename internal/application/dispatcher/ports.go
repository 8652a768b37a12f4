package dispatcher

import (
	"context"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
	"github.com/inhdata/sunat-validador/internal/infrastructure/sunat"
)

// Validador puerto de salida hacia el servicio de validación de comprobantes.
// La implementación concreta es sunat.Client; para tests se inyecta un fake.
type Validador interface {
	Validar(ctx context.Context, cp entity.Comprobante) (*sunat.Resultado, error)
}

// TxRunner ejecuta el commit de un resultado — histórico, snapshot y
// transición de la cola — dentro de una sola transacción. Es lo que hace
// idempotente el reproceso tras un crash a mitad de escritura.
type TxRunner interface {
	RunValidacion(ctx context.Context, fn func(
		valRepo repository.ValidationRepository,
		snapRepo repository.SnapshotRepository,
		queueRepo repository.QueueRepository,
	) error) error
}

// DestinoSyncer copia las columnas SUNAT_* del snapshot a la tabla destino.
type DestinoSyncer interface {
	SyncDesdeSnapshot(ctx context.Context) (int64, error)
}
