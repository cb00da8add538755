package normalize

import "strings"

// artifactMarkers are substrings of statement boilerplate (headers, totals,
// balances, line-break debris) that extraction sometimes returns as rows.
var artifactMarkers = []string{
	"TOTAL:", "SUBTOTAL", "SUB TOTAL", "MONTO TOTAL", "TOTAL FACTURADO",
	"SALDO ANTERIOR", "NUEVO SALDO", "SALDO:", "BALANCE:",
	"FECHA DE PROCESO", "FECHA DE CONSUMO", "DESCRIPCION", "DESCRIPCIÓN",
	"MONEDA", "CURRENCY",
	"PAGO MINIMO", "PAGO MÍNIMO", "LINEA DE CREDITO", "LÍNEA DE CRÉDITO",
	"FECHA LIMITE", "FECHA LÍMITE", "ESTADO DE CUENTA",
	"EURO IN", "USD IN", "PEN IN", "S/ IN",
	"---", "===",
}

// IsArtifact reports whether text looks like statement boilerplate rather
// than a transaction.
func IsArtifact(text string) bool {
	upper := strings.ToUpper(text)
	for _, marker := range artifactMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
