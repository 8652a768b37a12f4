package sunat

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Catálogo data.estadoCp del servicio validarcomprobante:
//
//	0: NO EXISTE | 1: ACEPTADO | 2: ANULADO | 3: AUTORIZADO | 4: NO AUTORIZADO
var catalogoEstados = map[string][2]string{
	"0": {"NO EXISTE", "NO EXISTE (0)"},
	"1": {"ACEPTADO", "ACEPTADO (1)"},
	"2": {"ANULADO", "ANULADO (2)"},
	"3": {"AUTORIZADO", "AUTORIZADO (3)"},
	"4": {"NO AUTORIZADO", "NO AUTORIZADO (4)"},
}

// MapEstado traduce un estadoCp a (nombre, descripción).
// Código vacío devuelve vacío; un código fuera del catálogo se conserva
// como CODE_x / NO_MAPEADO (x) para no perder información.
func MapEstado(codigo string) (nombre, descripcion string) {
	if codigo == "" {
		return "", ""
	}
	if par, ok := catalogoEstados[codigo]; ok {
		return par[0], par[1]
	}
	return "CODE_" + codigo, "NO_MAPEADO (" + codigo + ")"
}

// normalizarCodigo acepta estadoCp como número o string JSON y lo deja
// como string canónico ("1", no "1.0" ni " 1 ").
func normalizarCodigo(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.Itoa(int(f))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.Itoa(int(f))
		}
		return s
	}
	return strings.TrimSpace(string(raw))
}
