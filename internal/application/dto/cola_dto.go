package dto

import (
	"time"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
)

// EncolarRequest body de POST /api/v1/cola (interfaz del productor).
// El productor solo puede crear items queued; status no es configurable.
type EncolarRequest struct {
	IdFactura     int64  `json:"id_factura"`
	RUCEmisor     string `json:"ruc_emisor"`
	RUCReceptor   string `json:"ruc_receptor,omitempty"`
	TipoDocumento string `json:"tipo_documento"`
	Serie         string `json:"serie"`
	Numero        string `json:"numero"`
	FechaEmision  string `json:"fecha_emision,omitempty"` // aaaa-mm-dd
	ImporteTotal  string `json:"importe_total,omitempty"`
}

// EncolarResponse confirmación de encolado.
type EncolarResponse struct {
	IdQueue    int64     `json:"id_queue"`
	IdFactura  int64     `json:"id_factura"`
	Status     string    `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ResumenColaResponse conteo de items por status.
type ResumenColaResponse struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Error      int64 `json:"error"`
}

// EstadoResponse proyección del snapshot para lectores de reporting.
type EstadoResponse struct {
	IdFactura            int64     `json:"id_factura"`
	RUCEmisor            string    `json:"ruc_emisor"`
	RUCReceptor          string    `json:"ruc_receptor,omitempty"`
	TipoDocumento        string    `json:"tipo_documento"`
	Serie                string    `json:"serie"`
	Numero               string    `json:"numero"`
	ImporteTotal         string    `json:"importe_total,omitempty"`
	EstadoActual         string    `json:"estado_actual"`
	EstadoDescripcion    string    `json:"estado_descripcion"`
	CodigoRespuesta      string    `json:"codigo_respuesta"`
	Mensaje              string    `json:"mensaje,omitempty"`
	FechaPrimeraConsulta time.Time `json:"fecha_primera_consulta"`
	FechaUltimaConsulta  time.Time `json:"fecha_ultima_consulta"`
	FechaUltimoCambio    time.Time `json:"fecha_ultimo_cambio"`
	CambioEstado         bool      `json:"cambio_estado"`
}

// NewEstadoResponse proyecta la entidad de snapshot.
func NewEstadoResponse(e *entity.CurrentState) EstadoResponse {
	importe := ""
	if e.ImporteTotal != nil {
		importe = e.ImporteTotal.StringFixed(2)
	}
	return EstadoResponse{
		IdFactura:            e.IdFactura,
		RUCEmisor:            e.RUCEmisor,
		RUCReceptor:          e.RUCReceptor,
		TipoDocumento:        e.TipoDocumento,
		Serie:                e.Serie,
		Numero:               e.Numero,
		ImporteTotal:         importe,
		EstadoActual:         e.EstadoActual,
		EstadoDescripcion:    e.EstadoDescripcion,
		CodigoRespuesta:      e.CodigoRespuesta,
		Mensaje:              e.Mensaje,
		FechaPrimeraConsulta: e.FechaPrimeraConsulta,
		FechaUltimaConsulta:  e.FechaUltimaConsulta,
		FechaUltimoCambio:    e.FechaUltimoCambio,
		CambioEstado:         e.CambioEstado,
	}
}

// ValidacionResponse proyección de un registro del histórico.
type ValidacionResponse struct {
	IdValidacion    int64     `json:"id_validacion"`
	EstadoSUNAT     string    `json:"estado_sunat"`
	CodigoRespuesta string    `json:"codigo_respuesta"`
	Mensaje         string    `json:"mensaje,omitempty"`
	FechaConsulta   time.Time `json:"fecha_consulta"`
}

// NewValidacionResponse proyecta un registro del histórico (sin raw_json:
// el payload crudo es material de diagnóstico, no de API).
func NewValidacionResponse(rec *entity.ValidationRecord) ValidacionResponse {
	return ValidacionResponse{
		IdValidacion:    rec.IdValidacion,
		EstadoSUNAT:     rec.EstadoSUNAT,
		CodigoRespuesta: rec.CodigoRespuesta,
		Mensaje:         rec.Mensaje,
		FechaConsulta:   rec.FechaConsulta,
	}
}
