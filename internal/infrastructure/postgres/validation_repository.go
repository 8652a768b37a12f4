package postgres

import (
	"context"
	"fmt"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
)

var _ repository.ValidationRepository = (*ValidationRepo)(nil)

// ValidationRepo implementación de ValidationRepository sobre el histórico
// append-only inh.sunat_validacion (usable con pool o tx).
type ValidationRepo struct {
	q Querier
}

// NewValidationRepository construye el adaptador. Pasar pool o tx (Querier).
func NewValidationRepository(q Querier) *ValidationRepo {
	return &ValidationRepo{q: q}
}

// Insert agrega un registro al histórico. No existe Update ni Delete.
func (r *ValidationRepo) Insert(ctx context.Context, rec *entity.ValidationRecord) error {
	query := `
		INSERT INTO inh.sunat_validacion
			(id_factura, ruc_emisor, ruc_receptor, tipo_documento, serie, numero,
			 fecha_emision, importe_total, estado_sunat, codigo_respuesta, mensaje,
			 fecha_consulta, token_expira_utc, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id_validacion`
	err := r.q.QueryRow(ctx, query,
		rec.IdFactura, rec.RUCEmisor, nullIfEmpty(rec.RUCReceptor), rec.TipoDocumento,
		rec.Serie, rec.Numero, rec.FechaEmision, rec.ImporteTotal,
		nullIfEmpty(rec.EstadoSUNAT), nullIfEmpty(rec.CodigoRespuesta), nullIfEmpty(rec.Mensaje),
		rec.FechaConsulta, rec.TokenExpiraUTC, rec.RawJSON,
	).Scan(&rec.IdValidacion)
	if err != nil {
		return fmt.Errorf("insertar validación: %w", err)
	}
	return nil
}

// ListByFactura devuelve el histórico de una factura, más reciente primero.
func (r *ValidationRepo) ListByFactura(ctx context.Context, idFactura int64, limit int) ([]*entity.ValidationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id_validacion, id_factura, ruc_emisor, ruc_receptor, tipo_documento, serie, numero,
		       fecha_emision, importe_total, estado_sunat, codigo_respuesta, mensaje,
		       fecha_consulta, token_expira_utc, raw_json
		FROM inh.sunat_validacion
		WHERE id_factura = $1
		ORDER BY fecha_consulta DESC
		LIMIT $2`
	rows, err := r.q.Query(ctx, query, idFactura, limit)
	if err != nil {
		return nil, fmt.Errorf("listar validaciones: %w", err)
	}
	defer rows.Close()

	var list []*entity.ValidationRecord
	for rows.Next() {
		var rec entity.ValidationRecord
		var rucReceptor, estado, codigo, mensaje *string
		err := rows.Scan(
			&rec.IdValidacion, &rec.IdFactura, &rec.RUCEmisor, &rucReceptor, &rec.TipoDocumento,
			&rec.Serie, &rec.Numero, &rec.FechaEmision, &rec.ImporteTotal,
			&estado, &codigo, &mensaje, &rec.FechaConsulta, &rec.TokenExpiraUTC, &rec.RawJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan validación: %w", err)
		}
		rec.RUCReceptor = derefStr(rucReceptor)
		rec.EstadoSUNAT = derefStr(estado)
		rec.CodigoRespuesta = derefStr(codigo)
		rec.Mensaje = derefStr(mensaje)
		list = append(list, &rec)
	}
	return list, rows.Err()
}
