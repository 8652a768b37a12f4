package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrentState es la fila única por factura de inh.sunat_estado_actual:
// la última verdad conocida sobre el comprobante. Se upserta en cada
// reconciliación y nunca se trunca.
type CurrentState struct {
	IdFactura            int64
	RUCEmisor            string
	RUCReceptor          string
	TipoDocumento        string
	Serie                string
	Numero               string
	ImporteTotal         *decimal.Decimal
	EstadoActual         string
	EstadoDescripcion    string
	CodigoRespuesta      string
	Mensaje              string
	FechaPrimeraConsulta time.Time
	FechaUltimaConsulta  time.Time
	FechaUltimoCambio    time.Time
	CambioEstado         bool // true exactamente cuando la última consulta cambió el estado
}
