package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/platform/apperr"
)

func exampleInput() CreateBillInput {
	return CreateBillInput{
		AppointmentID: 1,
		PatientID:     7,
		Details: []DetailInput{
			{ItemType: ItemService, Quantity: 2, UnitPrice: dec("100"), InsuranceDiscount: decPtr("10")},
			{ItemType: ItemMedicine, Quantity: 1, UnitPrice: dec("50"), InsuranceDiscount: decPtr("0")},
		},
	}
}

func TestCreateBill_RecomputesTotals(t *testing.T) {
	svc, repo, _ := newTestService()
	in := exampleInput()
	bogus := dec("1")
	in.TotalCost, in.Amount = &bogus, &bogus

	b, err := svc.CreateBill(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if !b.TotalCost.Equal(dec("250")) || !b.InsuranceDiscount.Equal(dec("10")) || !b.Amount.Equal(dec("240")) {
		t.Errorf("unexpected totals: %s / %s / %s", b.TotalCost, b.InsuranceDiscount, b.Amount)
	}
	if b.Status != BillUnpaid {
		t.Errorf("expected default status UNPAID, got %s", b.Status)
	}
	if len(b.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(b.Details))
	}
	if !b.Details[0].TotalPrice.Equal(dec("200")) {
		t.Errorf("expected line total 200, got %s", b.Details[0].TotalPrice)
	}
	stored := repo.bills[b.ID]
	if !stored.Amount.Equal(dec("240")) {
		t.Errorf("expected stored amount 240, got %s", stored.Amount)
	}
}

func TestCreateBill_MissingDiscountStoredAsZero(t *testing.T) {
	svc, _, _ := newTestService()
	in := exampleInput()
	in.Details[0].InsuranceDiscount = nil

	b, err := svc.CreateBill(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if !b.Details[0].InsuranceDiscount.IsZero() {
		t.Errorf("expected zero discount, got %s", b.Details[0].InsuranceDiscount)
	}
	if !b.Amount.Equal(dec("250")) {
		t.Errorf("expected amount 250, got %s", b.Amount)
	}
}

func TestCreateBill_AtomicOnDetailFailure(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.failAddDetailAfter = 1

	if _, err := svc.CreateBill(context.Background(), exampleInput()); err == nil {
		t.Fatal("expected error")
	}
	if len(repo.bills) != 0 {
		t.Errorf("expected no bill after rollback, got %d", len(repo.bills))
	}
	if len(repo.details) != 0 {
		t.Errorf("expected no details after rollback, got %d", len(repo.details))
	}
}

func TestCreateBill_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateBillInput)
	}{
		{"missing appointment", func(in *CreateBillInput) { in.AppointmentID = 0 }},
		{"missing patient", func(in *CreateBillInput) { in.PatientID = 0 }},
		{"no details", func(in *CreateBillInput) { in.Details = nil }},
		{"bad status", func(in *CreateBillInput) { in.Status = "REFUNDED" }},
		{"bad item type", func(in *CreateBillInput) { in.Details[0].ItemType = "CANDY" }},
		{"zero quantity", func(in *CreateBillInput) { in.Details[0].Quantity = 0 }},
		{"negative price", func(in *CreateBillInput) { in.Details[0].UnitPrice = dec("-1") }},
		{"three decimals", func(in *CreateBillInput) { in.Details[0].UnitPrice = dec("1.005") }},
		{"negative discount", func(in *CreateBillInput) { in.Details[0].InsuranceDiscount = decPtr("-2") }},
		// each discount fits and so do total and amount, but the summed discount does not
		{"summed discount too large", func(in *CreateBillInput) {
			in.Details = []DetailInput{
				{ItemType: ItemService, Quantity: 1, UnitPrice: dec("60000000"), InsuranceDiscount: decPtr("50000000")},
				{ItemType: ItemService, Quantity: 1, UnitPrice: dec("39999999"), InsuranceDiscount: decPtr("50000000")},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			in := exampleInput()
			tt.mutate(&in)
			_, err := svc.CreateBill(context.Background(), in)
			if !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
			if len(repo.bills) != 0 {
				t.Error("expected nothing persisted")
			}
		})
	}
}

func TestUpdateBill_Whitelist(t *testing.T) {
	svc, _, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())

	unpaid := BillUnpaid
	apptID := int64(9)
	got, err := svc.UpdateBill(context.Background(), b.ID, BillUpdate{AppointmentID: &apptID, Status: &unpaid})
	if err != nil {
		t.Fatalf("UpdateBill: %v", err)
	}
	if got.Status != BillUnpaid || got.AppointmentID != 9 {
		t.Errorf("expected fields applied, got %+v", got)
	}
	if !got.Amount.Equal(dec("240")) || got.PatientID != 7 {
		t.Errorf("expected other fields untouched, got %+v", got)
	}
}

func TestUpdateBill_StatusChangeRejected(t *testing.T) {
	tests := []struct {
		name   string
		stored BillStatus
		to     BillStatus
	}{
		{"reopen paid bill", BillPaid, BillUnpaid},
		{"mark paid without a payment", BillUnpaid, BillPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			b, _ := svc.CreateBill(context.Background(), exampleInput())
			repo.bills[b.ID].Status = tt.stored

			to := tt.to
			apptID := int64(9)
			_, err := svc.UpdateBill(context.Background(), b.ID, BillUpdate{AppointmentID: &apptID, Status: &to})
			if !errors.Is(err, apperr.ErrInvalidState) {
				t.Fatalf("expected InvalidState, got %v", err)
			}
			if repo.bills[b.ID].Status != tt.stored || repo.bills[b.ID].AppointmentID != 1 {
				t.Errorf("expected bill untouched, got %+v", repo.bills[b.ID])
			}
		})
	}
}

func TestUpdateBill_PartialLeavesOtherFields(t *testing.T) {
	svc, _, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())

	unpaid := BillUnpaid
	got, err := svc.UpdateBill(context.Background(), b.ID, BillUpdate{Status: &unpaid})
	if err != nil {
		t.Fatalf("UpdateBill: %v", err)
	}
	if got.AppointmentID != 1 {
		t.Errorf("expected appointment_id unchanged, got %d", got.AppointmentID)
	}
}

func TestUpdateBill_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	paid := BillPaid
	if _, err := svc.UpdateBill(context.Background(), 42, BillUpdate{Status: &paid}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestUpdateBill_InvalidStatus(t *testing.T) {
	svc, _, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())
	bad := BillStatus("VOID")
	if _, err := svc.UpdateBill(context.Background(), b.ID, BillUpdate{Status: &bad}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestReplaceBillDetails(t *testing.T) {
	svc, repo, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())

	got, err := svc.ReplaceBillDetails(context.Background(), b.ID, []DetailInput{
		{ItemType: ItemTest, Quantity: 3, UnitPrice: dec("12.50"), InsuranceDiscount: decPtr("2.50")},
	})
	if err != nil {
		t.Fatalf("ReplaceBillDetails: %v", err)
	}
	if len(repo.details[b.ID]) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(repo.details[b.ID]))
	}
	if !got.TotalCost.Equal(dec("37.5")) || !got.Amount.Equal(dec("35")) {
		t.Errorf("unexpected totals %s / %s", got.TotalCost, got.Amount)
	}
	if !got.Amount.Equal(got.TotalCost.Sub(got.InsuranceDiscount)) {
		t.Error("amount invariant broken")
	}
}

func TestReplaceBillDetails_RollsBack(t *testing.T) {
	svc, repo, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())
	repo.failAddDetailAfter = repo.added

	_, err := svc.ReplaceBillDetails(context.Background(), b.ID, []DetailInput{
		{ItemType: ItemTest, Quantity: 1, UnitPrice: dec("5")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.details[b.ID]) != 2 {
		t.Errorf("expected original 2 details kept, got %d", len(repo.details[b.ID]))
	}
	if !repo.bills[b.ID].Amount.Equal(dec("240")) {
		t.Errorf("expected amount 240 kept, got %s", repo.bills[b.ID].Amount)
	}
}

func TestReplaceBillDetails_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.ReplaceBillDetails(context.Background(), 5, nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestAddBillDetails_Appends(t *testing.T) {
	svc, _, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())

	got, err := svc.AddBillDetails(context.Background(), b.ID, []DetailInput{
		{ItemType: ItemConsultation, Quantity: 1, UnitPrice: dec("60")},
	})
	if err != nil {
		t.Fatalf("AddBillDetails: %v", err)
	}
	if len(got.Details) != 3 {
		t.Errorf("expected 3 details, got %d", len(got.Details))
	}
	if !got.Amount.Equal(dec("300")) {
		t.Errorf("expected amount 300, got %s", got.Amount)
	}
}

func TestGetBillDetails_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.GetBillDetails(context.Background(), 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDeleteBill(t *testing.T) {
	svc, repo, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())
	if err := svc.DeleteBill(context.Background(), b.ID); err != nil {
		t.Fatalf("DeleteBill: %v", err)
	}
	if len(repo.details[b.ID]) != 0 {
		t.Error("expected details removed with the bill")
	}
	if err := svc.DeleteBill(context.Background(), b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound on second delete, got %v", err)
	}
}

func TestListBills_Paging(t *testing.T) {
	svc, _, _ := newTestService()
	for i := 0; i < 15; i++ {
		if _, err := svc.CreateBill(context.Background(), exampleInput()); err != nil {
			t.Fatalf("CreateBill: %v", err)
		}
	}

	if _, _, _, err := svc.ListBills(context.Background(), 0, 10); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected InvalidArgument for page 0, got %v", err)
	}

	bills, total, p, err := svc.ListBills(context.Background(), 1, 500)
	if err != nil {
		t.Fatalf("ListBills: %v", err)
	}
	if p.PageSize != 10 || len(bills) != 10 || total != 15 {
		t.Errorf("expected clamped page of 10 out of 15, got size=%d len=%d total=%d", p.PageSize, len(bills), total)
	}

	bills, _, _, _ = svc.ListBills(context.Background(), 2, 10)
	if len(bills) != 5 {
		t.Errorf("expected 5 bills on page 2, got %d", len(bills))
	}
}

func TestListBillsByPatient_EffectiveStatus(t *testing.T) {
	svc, _, fees := newTestService()
	fees.fees[1] = &appointment.Fees{AppointmentID: 1, BookingFee: dec("200")}
	if _, err := svc.CreateBill(context.Background(), exampleInput()); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	other := exampleInput()
	other.PatientID = 8
	svc.CreateBill(context.Background(), other)

	views, err := svc.ListBillsByPatient(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListBillsByPatient: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 bill, got %d", len(views))
	}
	if views[0].Status != BillPaid {
		t.Errorf("expected effective status PAID (240 >= 200), got %s", views[0].Status)
	}
	if views[0].Bill.Status != BillUnpaid {
		t.Errorf("expected persisted status UNPAID, got %s", views[0].Bill.Status)
	}
}

func TestGetBillView_UnknownAppointment(t *testing.T) {
	svc, _, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())

	v, err := svc.GetBillView(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBillView: %v", err)
	}
	if !v.BookingFee.IsZero() || v.Status != BillPaid {
		t.Errorf("expected zero fees and PAID, got %s / %s", v.BookingFee, v.Status)
	}
}

func TestAmountInvariant_AcrossMutations(t *testing.T) {
	svc, _, _ := newTestService()
	b, _ := svc.CreateBill(context.Background(), exampleInput())
	for i := 1; i <= 5; i++ {
		got, err := svc.AddBillDetails(context.Background(), b.ID, []DetailInput{
			{ItemType: ItemOther, Quantity: i, UnitPrice: decimal.New(int64(i*333), -2), InsuranceDiscount: decPtr(fmt.Sprintf("%d.01", i))},
		})
		if err != nil {
			t.Fatalf("AddBillDetails: %v", err)
		}
		if !got.Amount.Equal(got.TotalCost.Sub(got.InsuranceDiscount)) {
			t.Fatalf("iteration %d: amount invariant broken: %+v", i, got)
		}
	}
}
