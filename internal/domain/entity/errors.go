package entity

import "errors"

// ErrFacturaPendiente indica que la factura ya tiene un item en estado
// queued o processing: el índice parcial único de la cola impide encolarla de nuevo.
var ErrFacturaPendiente = errors.New("la factura ya tiene una validación pendiente en cola")

// ErrItemNoEnProceso indica que una transición de cola no encontró el item
// en processing: otro worker lo reclamó tras vencer el timeout de visibilidad
// y resolvió primero. El perdedor debe descartar su resultado completo.
var ErrItemNoEnProceso = errors.New("el item ya no está en estado processing")
