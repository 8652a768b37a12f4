package sunat

import (
	"encoding/json"
	"time"
)

// Resultado es la respuesta interpretada del servicio validarcomprobante.
// Se construye tanto para 2xx como para respuestas de error con cuerpo
// parseable; en ambos casos alimenta histórico y snapshot.
type Resultado struct {
	Estado            string // nombre mapeado (ACEPTADO, ANULADO, ...; vacío si no vino estadoCp)
	EstadoDescripcion string
	CodigoRespuesta   string // estadoCp crudo
	Mensaje           string
	HTTPStatus        int
	TokenExpira       time.Time // expiración UTC del token usado en la consulta
	RawJSON           []byte
}

// cuerpoValidar es el body del POST validarcomprobante.
type cuerpoValidar struct {
	NumRuc       string `json:"numRuc"`
	CodComp      string `json:"codComp"`
	NumeroSerie  string `json:"numeroSerie"`
	Numero       string `json:"numero"`
	FechaEmision string `json:"fechaEmision,omitempty"` // dd/mm/aaaa
	Monto        string `json:"monto"`
}

// respuestaValidar estructura flexible de la respuesta del servicio.
// SUNAT no es consistente con el campo de mensaje entre versiones.
type respuestaValidar struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Mensaje     string           `json:"mensaje"`
	Observacion string           `json:"observacion"`
	Data        *datosValidacion `json:"data"`
}

type datosValidacion struct {
	EstadoCp      json.RawMessage `json:"estadoCp"` // puede venir como número o string
	EstadoRuc     json.RawMessage `json:"estadoRuc"`
	CondDomiRuc   json.RawMessage `json:"condDomiRuc"`
	Observaciones []string        `json:"observaciones"`
}

// respuestaToken respuesta del endpoint OAuth2 client_credentials.
type respuestaToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
