package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
	"github.com/inhdata/sunat-validador/internal/infrastructure/sunat"
)

// Reconciliar aplica un resultado de validación al snapshot de la factura
// y devuelve si hubo cambio de estado.
//
// Reglas:
//   - Sin fila previa: se crea con fecha_primera_consulta = ahora y
//     cambio_estado = true (salvo respuesta sin estado, que no es un estado).
//   - Con fila previa: cambio = (estado o descripción difieren del previo).
//     fecha_ultima_consulta siempre avanza; fecha_ultimo_cambio y el par
//     estado/descripción solo se tocan cuando hubo cambio.
func Reconciliar(ctx context.Context, snapRepo repository.SnapshotRepository, item *entity.QueueItem, res *sunat.Resultado, ahora time.Time) (bool, error) {
	prev, err := snapRepo.GetByFactura(ctx, item.IdFactura)
	if err != nil {
		return false, fmt.Errorf("leer snapshot: %w", err)
	}

	if prev == nil {
		estado := &entity.CurrentState{
			IdFactura:            item.IdFactura,
			RUCEmisor:            item.RUCEmisor,
			RUCReceptor:          item.RUCReceptor,
			TipoDocumento:        item.TipoDocumento,
			Serie:                item.Serie,
			Numero:               item.Numero,
			ImporteTotal:         item.ImporteTotal,
			EstadoActual:         res.Estado,
			EstadoDescripcion:    res.EstadoDescripcion,
			CodigoRespuesta:      res.CodigoRespuesta,
			Mensaje:              res.Mensaje,
			FechaPrimeraConsulta: ahora,
			FechaUltimaConsulta:  ahora,
			FechaUltimoCambio:    ahora,
			CambioEstado:         res.Estado != "",
		}
		if err := snapRepo.Insert(ctx, estado); err != nil {
			return false, fmt.Errorf("insertar snapshot: %w", err)
		}
		return estado.CambioEstado, nil
	}

	cambio := prev.EstadoActual != res.Estado || prev.EstadoDescripcion != res.EstadoDescripcion
	prev.CodigoRespuesta = res.CodigoRespuesta
	prev.Mensaje = res.Mensaje
	prev.FechaUltimaConsulta = ahora
	prev.CambioEstado = cambio
	if cambio {
		prev.EstadoActual = res.Estado
		prev.EstadoDescripcion = res.EstadoDescripcion
		prev.FechaUltimoCambio = ahora
	}
	if err := snapRepo.Update(ctx, prev); err != nil {
		return false, fmt.Errorf("actualizar snapshot: %w", err)
	}
	return cambio, nil
}
