package sunat

import "fmt"

// TransportError fallo de red o timeout sin respuesta interpretable.
// El worker lo reintenta devolviendo el item a la cola con backoff.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sunat: error de transporte: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError rechazo de credenciales u obtención de token fallida.
// Puede ser transitorio (desfase de reloj), por eso también se reintenta.
type AuthError struct {
	Detalle string
}

func (e *AuthError) Error() string {
	return "sunat: autenticación rechazada: " + e.Detalle
}

// ApiError respuesta no-2xx con cuerpo interpretable: un resultado de
// negocio terminal (comprobante rechazado/inválido), no un fallo a reintentar.
// Resultado trae el payload parseado para persistir en histórico y snapshot.
type ApiError struct {
	Resultado *Resultado
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("sunat: HTTP %d: %s", e.Resultado.HTTPStatus, e.Resultado.Mensaje)
}
