package billing

import (
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/appointment"
)

// EffectiveStatus derives the client-facing status of a bill. Without ordered
// services the booking fee alone settles the bill; otherwise the booking fee
// and every service fee must be covered.
func EffectiveStatus(amount, bookingFee, serviceFee decimal.Decimal) BillStatus {
	needed := bookingFee
	if !serviceFee.IsZero() {
		needed = bookingFee.Add(serviceFee)
	}
	if amount.GreaterThanOrEqual(needed) {
		return BillPaid
	}
	return BillUnpaid
}

// NewView builds the display form of b. A nil fees value means the
// appointment could not be resolved, in which case both fees are zero.
func NewView(b *Bill, fees *appointment.Fees) *BillView {
	v := &BillView{Bill: b, BookingFee: decimal.Zero, ServiceFee: decimal.Zero}
	if fees != nil {
		v.BookingFee = fees.BookingFee
		v.ServiceFee = fees.ServiceFee()
	}
	v.Status = EffectiveStatus(b.Amount, v.BookingFee, v.ServiceFee)
	return v
}
