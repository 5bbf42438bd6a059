package billing

import (
	"context"
	"errors"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/pkg/pagination"
)

type Service struct {
	bills BillRepository
	tx    TxManager
	fees  FeeLookup
}

func NewService(bills BillRepository, tx TxManager, fees FeeLookup) *Service {
	return &Service{bills: bills, tx: tx, fees: fees}
}

func validateDetails(op string, details []DetailInput) error {
	for i, d := range details {
		if !validItemTypes[d.ItemType] {
			return apperr.InvalidArgument(op, "bill_details[%d]: invalid item_type %q", i, d.ItemType)
		}
		if d.Quantity < 1 {
			return apperr.InvalidArgument(op, "bill_details[%d]: quantity must be at least 1", i)
		}
		if d.UnitPrice.IsNegative() || !FitsMoneyColumn(d.UnitPrice) {
			return apperr.InvalidArgument(op, "bill_details[%d]: unit_price must be a non-negative amount with at most 2 decimal places", i)
		}
		if d.InsuranceDiscount != nil && (d.InsuranceDiscount.IsNegative() || !FitsMoneyColumn(*d.InsuranceDiscount)) {
			return apperr.InvalidArgument(op, "bill_details[%d]: insurance_discount must be a non-negative amount with at most 2 decimal places", i)
		}
		if !FitsMoneyColumn(LineTotal(d.UnitPrice, d.Quantity)) {
			return apperr.InvalidArgument(op, "bill_details[%d]: line total is too large", i)
		}
	}
	return nil
}

func (s *Service) addDetails(ctx context.Context, billID int64, details []DetailInput) error {
	for _, in := range details {
		d := &BillDetail{
			BillID:     billID,
			ItemType:   in.ItemType,
			Quantity:   in.Quantity,
			UnitPrice:  in.UnitPrice,
			TotalPrice: LineTotal(in.UnitPrice, in.Quantity),
		}
		if in.InsuranceDiscount != nil {
			d.InsuranceDiscount = *in.InsuranceDiscount
		}
		if err := s.bills.AddDetail(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// recompute reloads the persisted details of b and overwrites its totals.
func (s *Service) recompute(ctx context.Context, b *Bill) error {
	details, err := s.bills.GetDetails(ctx, b.ID)
	if err != nil {
		return err
	}
	totals := ComputeTotals(DetailsToLineItems(details))
	if !FitsMoneyColumn(totals.TotalCost) || !FitsMoneyColumn(totals.InsuranceDiscount) || !FitsMoneyColumn(totals.Amount) {
		return apperr.InvalidArgument("billing.recompute", "bill %d total exceeds the supported range", b.ID)
	}
	b.ApplyTotals(totals)
	b.Details = details
	return s.bills.Update(ctx, b)
}

// CreateBill stores the bill and its details in one transaction. Totals
// supplied by the caller are ignored in favour of the persisted details.
func (s *Service) CreateBill(ctx context.Context, in CreateBillInput) (*Bill, error) {
	const op = "billing.CreateBill"
	if in.AppointmentID <= 0 {
		return nil, apperr.InvalidArgument(op, "appointment_id is required")
	}
	if in.PatientID <= 0 {
		return nil, apperr.InvalidArgument(op, "patient_id is required")
	}
	if len(in.Details) == 0 {
		return nil, apperr.InvalidArgument(op, "bill_details is required")
	}
	if in.Status == "" {
		in.Status = BillUnpaid
	}
	if !in.Status.Valid() {
		return nil, apperr.InvalidArgument(op, "invalid status %q", in.Status)
	}
	if err := validateDetails(op, in.Details); err != nil {
		return nil, err
	}

	b := &Bill{
		AppointmentID: in.AppointmentID,
		PatientID:     in.PatientID,
		Status:        in.Status,
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.bills.Create(ctx, b); err != nil {
			return err
		}
		if err := s.addDetails(ctx, b.ID, in.Details); err != nil {
			return err
		}
		return s.recompute(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBill applies only the whitelisted fields present in upd.
func (s *Service) UpdateBill(ctx context.Context, id int64, upd BillUpdate) (*Bill, error) {
	const op = "billing.UpdateBill"
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, apperr.InvalidArgument(op, "invalid status %q", *upd.Status)
	}
	if upd.AppointmentID != nil && *upd.AppointmentID <= 0 {
		return nil, apperr.InvalidArgument(op, "appointment_id must be positive")
	}

	var b *Bill
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.bills.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if upd.Empty() {
			return nil
		}
		// status is owned by the payment flow; restating it is a no-op
		if upd.Status != nil && *upd.Status != b.Status {
			return apperr.InvalidState(op, "bill %d status is %s and only changes through a payment", id, b.Status)
		}
		if upd.AppointmentID == nil {
			return nil
		}
		b.AppointmentID = *upd.AppointmentID
		return s.bills.Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ReplaceBillDetails swaps the whole detail set of a bill and recomputes its totals.
func (s *Service) ReplaceBillDetails(ctx context.Context, id int64, details []DetailInput) (*Bill, error) {
	if err := validateDetails("billing.ReplaceBillDetails", details); err != nil {
		return nil, err
	}
	var b *Bill
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.bills.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := s.bills.DeleteDetails(ctx, id); err != nil {
			return err
		}
		if err := s.addDetails(ctx, id, details); err != nil {
			return err
		}
		return s.recompute(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AddBillDetails appends details to a bill and recomputes its totals.
func (s *Service) AddBillDetails(ctx context.Context, id int64, details []DetailInput) (*Bill, error) {
	const op = "billing.AddBillDetails"
	if len(details) == 0 {
		return nil, apperr.InvalidArgument(op, "bill_details is required")
	}
	if err := validateDetails(op, details); err != nil {
		return nil, err
	}
	var b *Bill
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.bills.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if err := s.addDetails(ctx, id, details); err != nil {
			return err
		}
		return s.recompute(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id int64) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Details, err = s.bills.GetDetails(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

// GetBillView returns the bill with its effective status.
func (s *Service) GetBillView(ctx context.Context, id int64) (*BillView, error) {
	b, err := s.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, b)
}

func (s *Service) view(ctx context.Context, b *Bill) (*BillView, error) {
	if s.fees == nil {
		return NewView(b, nil), nil
	}
	fees, err := s.fees.GetFees(ctx, b.AppointmentID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return NewView(b, fees), nil
}

func (s *Service) GetBillDetails(ctx context.Context, id int64) ([]*BillDetail, error) {
	if _, err := s.bills.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.bills.GetDetails(ctx, id)
}

func (s *Service) DeleteBill(ctx context.Context, id int64) error {
	return s.bills.Delete(ctx, id)
}

func (s *Service) ListBillsByPatient(ctx context.Context, patientID int64) ([]*BillView, error) {
	bills, err := s.bills.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	views := make([]*BillView, 0, len(bills))
	for _, b := range bills {
		v, err := s.view(ctx, b)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// ListBills pages through all bills. A page below 1 is rejected; a page size
// outside [1, 100] falls back to 10.
func (s *Service) ListBills(ctx context.Context, page, pageSize int) ([]*Bill, int, pagination.Params, error) {
	p, err := pagination.New(page, pageSize)
	if err != nil {
		return nil, 0, p, apperr.InvalidArgument("billing.ListBills", "%v", err)
	}
	bills, total, err := s.bills.List(ctx, p.Limit(), p.Offset())
	if err != nil {
		return nil, 0, p, err
	}
	return bills, total, p, nil
}
