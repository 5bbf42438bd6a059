package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillUnpaid BillStatus = "UNPAID"
	BillPaid   BillStatus = "PAID"
)

func (s BillStatus) Valid() bool {
	return s == BillUnpaid || s == BillPaid
}

// ItemType is the service category of a bill line.
type ItemType string

const (
	ItemConsultation ItemType = "CONSULTATION"
	ItemTest         ItemType = "TEST"
	ItemMedicine     ItemType = "MEDICINE"
	ItemService      ItemType = "SERVICE"
	ItemProcedure    ItemType = "PROCEDURE"
	ItemOther        ItemType = "OTHER"
)

var validItemTypes = map[ItemType]bool{
	ItemConsultation: true, ItemTest: true, ItemMedicine: true,
	ItemService: true, ItemProcedure: true, ItemOther: true,
}

// Bill maps to the bill table.
type Bill struct {
	ID                int64           `db:"id" json:"id"`
	AppointmentID     int64           `db:"appointment_id" json:"appointment_id"`
	PatientID         int64           `db:"patient_id" json:"patient_id"`
	TotalCost         decimal.Decimal `db:"total_cost" json:"total_cost"`
	InsuranceDiscount decimal.Decimal `db:"insurance_discount" json:"insurance_discount"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Status            BillStatus      `db:"status" json:"status"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
	Details           []*BillDetail   `db:"-" json:"bill_details,omitempty"`
}

// ApplyTotals overwrites the derived money fields.
func (b *Bill) ApplyTotals(t Totals) {
	b.TotalCost = t.TotalCost
	b.InsuranceDiscount = t.InsuranceDiscount
	b.Amount = t.Amount
}

// BillDetail maps to the bill_detail table. TotalPrice is fixed at creation.
type BillDetail struct {
	ID                int64           `db:"id" json:"id"`
	BillID            int64           `db:"bill_id" json:"bill_id"`
	ItemType          ItemType        `db:"item_type" json:"item_type"`
	Quantity          int             `db:"quantity" json:"quantity"`
	UnitPrice         decimal.Decimal `db:"unit_price" json:"unit_price"`
	InsuranceDiscount decimal.Decimal `db:"insurance_discount" json:"insurance_discount"`
	TotalPrice        decimal.Decimal `db:"total_price" json:"total_price"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// DetailsToLineItems adapts persisted details for ComputeTotals.
func DetailsToLineItems(details []*BillDetail) []LineItem {
	items := make([]LineItem, 0, len(details))
	for _, d := range details {
		discount := d.InsuranceDiscount
		items = append(items, LineItem{
			UnitPrice:         d.UnitPrice,
			Quantity:          d.Quantity,
			InsuranceDiscount: &discount,
		})
	}
	return items
}

// DetailInput is one requested bill line. A nil discount is stored as zero.
type DetailInput struct {
	ItemType          ItemType         `json:"item_type"`
	Quantity          int              `json:"quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	InsuranceDiscount *decimal.Decimal `json:"insurance_discount"`
}

// CreateBillInput is the create-bill request. The client-supplied totals are
// accepted for compatibility but always overwritten from the persisted details.
type CreateBillInput struct {
	AppointmentID     int64            `json:"appointment_id"`
	PatientID         int64            `json:"patient_id"`
	TotalCost         *decimal.Decimal `json:"total_cost,omitempty"`
	InsuranceDiscount *decimal.Decimal `json:"insurance_discount,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	Status            BillStatus       `json:"status,omitempty"`
	Details           []DetailInput    `json:"bill_details"`
}

// BillUpdate lists the only fields a partial update may touch. Status is
// accepted only when it matches the stored value.
type BillUpdate struct {
	AppointmentID *int64      `json:"appointment_id,omitempty"`
	Status        *BillStatus `json:"status,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u BillUpdate) Empty() bool {
	return u.AppointmentID == nil && u.Status == nil
}

// BillView is a bill as shown to clients, with the status derived from the
// appointment fees instead of the persisted one.
type BillView struct {
	*Bill
	BookingFee decimal.Decimal `json:"booking_fee"`
	ServiceFee decimal.Decimal `json:"service_fee"`
	Status     BillStatus      `json:"status"`
}
