// Package appointment exposes the read-only slice of the appointments
// subsystem that billing depends on: an appointment's booking fee and the
// prices of the services ordered during it.
package appointment

import (
	"github.com/shopspring/decimal"
)

// Fees maps to an appointment row joined with its service orders.
type Fees struct {
	AppointmentID int64             `json:"appointment_id"`
	PatientID     int64             `json:"patient_id"`
	BookingFee    decimal.Decimal   `json:"booking_fee"`
	ServicePrices []decimal.Decimal `json:"service_prices"`
}

// ServiceFee sums the ordered service prices. Orders whose service has no
// price are not part of ServicePrices.
func (f *Fees) ServiceFee() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range f.ServicePrices {
		sum = sum.Add(p)
	}
	return sum
}
