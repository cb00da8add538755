package extract

import (
	"strings"

	"github.com/dvloznov/statement-ingest/internal/textnorm"
)

// nonPurchaseOperations are operation-type tokens of rows that are not
// purchases: payments, transfers, reversals, interest, fees and insurance.
var nonPurchaseOperations = map[string]bool{
	"pago":          true,
	"pagos":         true,
	"abono":         true,
	"transferencia": true,
	"extorno":       true,
	"devolucion":    true,
	"reverso":       true,
	"interes":       true,
	"intereses":     true,
	"comision":      true,
	"comisiones":    true,
	"cargo":         true,
	"seguro":        true,
	"desgravamen":   true,
	"membresia":     true,
	"penalidad":     true,
	"payment":       true,
	"transfer":      true,
	"refund":        true,
	"reversal":      true,
	"interest":      true,
	"fee":           true,
	"fees":          true,
	"charge":        true,
	"insurance":     true,
	"credit":        true,
}

// leadingNonPurchase are description prefixes that mark a non-purchase row
// even when no operation type was reported.
var leadingNonPurchase = []string{
	"pago ", "abono ", "transferencia ", "extorno ", "devolucion ", "reverso ",
	"interes ", "intereses ", "payment ", "refund ",
}

// IsNonPurchase reports whether a row with the given operation type and
// description must be dropped by extraction.
func IsNonPurchase(operation, description string) bool {
	op := strings.TrimSpace(textnorm.Fold(operation))
	if nonPurchaseOperations[op] {
		return true
	}
	desc := textnorm.Fold(strings.TrimSpace(description)) + " "
	for _, prefix := range leadingNonPurchase {
		if strings.HasPrefix(desc, prefix) {
			return true
		}
	}
	return false
}
