package postgres

import (
	"context"
	"fmt"
)

// DestinoRepo sincroniza las columnas SUNAT_* de la tabla destino de
// reporting (data.factura_compra_cabecera) desde el snapshot. Es el único
// escritor de esas columnas; el resto de la tabla pertenece a otro sistema.
type DestinoRepo struct {
	q     Querier
	tabla string
}

// NewDestinoRepository construye el adaptador. tabla vacía usa la tabla por defecto.
func NewDestinoRepository(q Querier, tabla string) *DestinoRepo {
	if tabla == "" {
		tabla = "data.factura_compra_cabecera"
	}
	return &DestinoRepo{q: q, tabla: tabla}
}

// SyncDesdeSnapshot copia estado, mensaje y fechas a la tabla destino.
// Idempotente: sunat_fecha_primera solo se fija una vez (COALESCE) y
// sunat_fecha_cambio solo avanza cuando el snapshot registró un cambio.
func (r *DestinoRepo) SyncDesdeSnapshot(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s d
		SET estado_sunat_ult         = s.estado_actual,
		    estado_sunat_descripcion = s.estado_descripcion,
		    sunat_codigo_respuesta   = s.codigo_respuesta,
		    sunat_mensaje            = s.mensaje,
		    sunat_cambio_estado      = s.cambio_estado,
		    sunat_fecha_primera      = COALESCE(d.sunat_fecha_primera, s.fecha_primera_consulta),
		    sunat_fecha_ultima       = s.fecha_ultima_consulta,
		    sunat_fecha_cambio       = CASE WHEN s.cambio_estado
		                                    THEN s.fecha_ultimo_cambio
		                                    ELSE d.sunat_fecha_cambio
		                               END
		FROM inh.sunat_estado_actual s
		WHERE d.id_factura = s.id_factura
		  AND (d.estado_sunat_ult IS DISTINCT FROM s.estado_actual
		    OR d.estado_sunat_descripcion IS DISTINCT FROM s.estado_descripcion
		    OR d.sunat_codigo_respuesta IS DISTINCT FROM s.codigo_respuesta
		    OR d.sunat_mensaje IS DISTINCT FROM s.mensaje
		    OR d.sunat_cambio_estado IS DISTINCT FROM s.cambio_estado
		    OR d.sunat_fecha_ultima IS DISTINCT FROM s.fecha_ultima_consulta)`, r.tabla)
	tag, err := r.q.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sincronizar tabla destino: %w", err)
	}
	return tag.RowsAffected(), nil
}
