package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados de un item en la cola de validación (inh.api_sunat_queue.status).
const (
	StatusQueued     = "queued"     // pendiente, reclamable
	StatusProcessing = "processing" // reclamado por un worker; reclamable otra vez si se estanca
	StatusDone       = "done"       // consulta completada (terminal)
	StatusError      = "error"      // rechazo de negocio o reintentos agotados (terminal)
)

// QueueItem es una solicitud de validación pendiente en inh.api_sunat_queue.
// Lo crea el productor externo con status=queued; solo el worker lo muta después.
// Nunca se borra: la cola es también pista de auditoría.
type QueueItem struct {
	IdQueue       int64
	IdFactura     int64
	RUCEmisor     string
	RUCReceptor   string // opcional
	TipoDocumento string // codComp SUNAT (ej. "01" factura)
	Serie         string
	Numero        string
	FechaEmision  *time.Time       // opcional
	ImporteTotal  *decimal.Decimal // opcional
	EnqueuedAt    time.Time
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time // backoff: no reclamable antes de esta hora
	UpdatedAt     time.Time // última transición; base del timeout de visibilidad
}

// Comprobante devuelve la tupla identificatoria que se envía a SUNAT.
func (q *QueueItem) Comprobante() Comprobante {
	return Comprobante{
		RUCEmisor:     q.RUCEmisor,
		TipoDocumento: q.TipoDocumento,
		Serie:         q.Serie,
		Numero:        q.Numero,
		FechaEmision:  q.FechaEmision,
		ImporteTotal:  q.ImporteTotal,
	}
}

// Comprobante identifica un comprobante electrónico ante el servicio de validación.
type Comprobante struct {
	RUCEmisor     string
	TipoDocumento string
	Serie         string
	Numero        string
	FechaEmision  *time.Time
	ImporteTotal  *decimal.Decimal
}
