package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidationRecord es una fila inmutable de inh.sunat_validacion: una llamada
// al servicio validarcomprobante que obtuvo respuesta (aceptación o rechazo).
// Los fallos puros de transporte no generan registro porque no hay payload que guardar.
type ValidationRecord struct {
	IdValidacion    int64
	IdFactura       int64
	RUCEmisor       string
	RUCReceptor     string
	TipoDocumento   string
	Serie           string
	Numero          string
	FechaEmision    *time.Time
	ImporteTotal    *decimal.Decimal
	EstadoSUNAT     string // nombre mapeado del estadoCp (ACEPTADO, ANULADO, ...)
	CodigoRespuesta string // estadoCp crudo ("0".."4") cuando existe
	Mensaje         string
	FechaConsulta   time.Time
	TokenExpiraUTC  time.Time
	RawJSON         []byte // payload completo de la respuesta, sin interpretar
}
