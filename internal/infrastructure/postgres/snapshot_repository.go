package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
)

var _ repository.SnapshotRepository = (*SnapshotRepo)(nil)

// SnapshotRepo implementación de SnapshotRepository sobre
// inh.sunat_estado_actual (usable con pool o tx).
type SnapshotRepo struct {
	q Querier
}

// NewSnapshotRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSnapshotRepository(q Querier) *SnapshotRepo {
	return &SnapshotRepo{q: q}
}

// GetByFactura devuelve el estado actual, o nil si la factura nunca se consultó.
func (r *SnapshotRepo) GetByFactura(ctx context.Context, idFactura int64) (*entity.CurrentState, error) {
	query := `
		SELECT id_factura, ruc_emisor, ruc_receptor, tipo_documento, serie, numero, importe_total,
		       estado_actual, estado_descripcion, codigo_respuesta, mensaje,
		       fecha_primera_consulta, fecha_ultima_consulta, fecha_ultimo_cambio, cambio_estado
		FROM inh.sunat_estado_actual
		WHERE id_factura = $1`
	var e entity.CurrentState
	var rucReceptor, estado, descripcion, codigo, mensaje *string
	err := r.q.QueryRow(ctx, query, idFactura).Scan(
		&e.IdFactura, &e.RUCEmisor, &rucReceptor, &e.TipoDocumento, &e.Serie, &e.Numero,
		&e.ImporteTotal, &estado, &descripcion, &codigo, &mensaje,
		&e.FechaPrimeraConsulta, &e.FechaUltimaConsulta, &e.FechaUltimoCambio, &e.CambioEstado,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("leer snapshot: %w", err)
	}
	e.RUCReceptor = derefStr(rucReceptor)
	e.EstadoActual = derefStr(estado)
	e.EstadoDescripcion = derefStr(descripcion)
	e.CodigoRespuesta = derefStr(codigo)
	e.Mensaje = derefStr(mensaje)
	return &e, nil
}

// Insert crea la fila en la primera consulta de la factura.
func (r *SnapshotRepo) Insert(ctx context.Context, estado *entity.CurrentState) error {
	query := `
		INSERT INTO inh.sunat_estado_actual
			(id_factura, ruc_emisor, ruc_receptor, tipo_documento, serie, numero, importe_total,
			 estado_actual, estado_descripcion, codigo_respuesta, mensaje,
			 fecha_primera_consulta, fecha_ultima_consulta, fecha_ultimo_cambio, cambio_estado)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query,
		estado.IdFactura, estado.RUCEmisor, nullIfEmpty(estado.RUCReceptor), estado.TipoDocumento,
		estado.Serie, estado.Numero, estado.ImporteTotal,
		nullIfEmpty(estado.EstadoActual), nullIfEmpty(estado.EstadoDescripcion),
		nullIfEmpty(estado.CodigoRespuesta), nullIfEmpty(estado.Mensaje),
		estado.FechaPrimeraConsulta, estado.FechaUltimaConsulta, estado.FechaUltimoCambio,
		estado.CambioEstado,
	)
	if err != nil {
		return fmt.Errorf("insertar snapshot: %w", err)
	}
	return nil
}

// Update sobreescribe el estado vigente. fecha_primera_consulta no se toca.
func (r *SnapshotRepo) Update(ctx context.Context, estado *entity.CurrentState) error {
	query := `
		UPDATE inh.sunat_estado_actual
		SET estado_actual       = $2,
		    estado_descripcion  = $3,
		    codigo_respuesta    = $4,
		    mensaje             = $5,
		    fecha_ultima_consulta = $6,
		    fecha_ultimo_cambio   = $7,
		    cambio_estado         = $8
		WHERE id_factura = $1`
	_, err := r.q.Exec(ctx, query,
		estado.IdFactura,
		nullIfEmpty(estado.EstadoActual), nullIfEmpty(estado.EstadoDescripcion),
		nullIfEmpty(estado.CodigoRespuesta), nullIfEmpty(estado.Mensaje),
		estado.FechaUltimaConsulta, estado.FechaUltimoCambio, estado.CambioEstado,
	)
	if err != nil {
		return fmt.Errorf("actualizar snapshot: %w", err)
	}
	return nil
}
