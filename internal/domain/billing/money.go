package billing

import (
	"github.com/shopspring/decimal"
)

// Money columns are NUMERIC(10,2): at most 10 digits, 2 of them after the point.
const (
	MoneyScale     = 2
	MoneyMaxDigits = 10
)

var maxMoney = decimal.New(1, MoneyMaxDigits-MoneyScale) // 10^8, exclusive

// LineItem is the calculator's view of one bill line.
type LineItem struct {
	UnitPrice         decimal.Decimal
	Quantity          int
	InsuranceDiscount *decimal.Decimal
}

// Totals is the result of ComputeTotals.
type Totals struct {
	TotalCost         decimal.Decimal
	InsuranceDiscount decimal.Decimal
	Amount            decimal.Decimal
}

// LineTotal returns unit_price × quantity rounded to the money scale.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(MoneyScale)
}

// ComputeTotals sums line totals and discounts. A nil discount counts as zero.
// Amount is not clamped: discounts larger than the cost yield a negative amount.
func ComputeTotals(items []LineItem) Totals {
	total := decimal.Zero
	discount := decimal.Zero
	for _, it := range items {
		total = total.Add(LineTotal(it.UnitPrice, it.Quantity))
		if it.InsuranceDiscount != nil {
			discount = discount.Add(*it.InsuranceDiscount)
		}
	}
	total = total.Round(MoneyScale)
	discount = discount.Round(MoneyScale)
	return Totals{
		TotalCost:         total,
		InsuranceDiscount: discount,
		Amount:            total.Sub(discount),
	}
}

// FitsMoneyColumn reports whether d can be stored in a NUMERIC(10,2) column
// without losing precision.
func FitsMoneyColumn(d decimal.Decimal) bool {
	if !d.Equal(d.Round(MoneyScale)) {
		return false
	}
	return d.Abs().LessThan(maxMoney)
}
