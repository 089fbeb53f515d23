// Package billing holds the pure pricing and reference-number helpers used by
// the ledger manager.
package billing

import "github.com/shopspring/decimal"

// TaxRate is the fixed VAT rate applied to every product price. Both the
// forward computation and the display-time breakdown must use this constant;
// a historical transaction's breakdown is always recovered from its stored
// amount, never recomputed from the product's current price.
var TaxRate = decimal.RequireFromString("0.11")

var one = decimal.NewFromInt(1)

// GrossAmount returns the tax-inclusive total for a base price, rounded to
// two decimal places. This is the only amount ever debited or credited for a
// transaction.
func GrossAmount(basePrice decimal.Decimal) decimal.Decimal {
	return basePrice.Mul(one.Add(TaxRate)).Round(2)
}

// Breakdown splits a stored tax-inclusive amount back into subtotal and tax
// for display. tax = amount - subtotal, so the two parts always sum to the
// amount exactly.
func Breakdown(amount decimal.Decimal) (subtotal, tax decimal.Decimal) {
	subtotal = amount.Div(one.Add(TaxRate)).Round(2)
	tax = amount.Sub(subtotal)
	return subtotal, tax
}
