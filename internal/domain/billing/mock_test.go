package billing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/clinic/clinic/internal/domain/appointment"
	"github.com/clinic/clinic/internal/platform/apperr"
)

type mockBillRepo struct {
	bills   map[int64]*Bill
	details map[int64][]*BillDetail
	nextID  int64

	// failAddDetailAfter makes AddDetail fail once that many details were added.
	failAddDetailAfter int
	added              int
}

func newMockBillRepo() *mockBillRepo {
	return &mockBillRepo{bills: make(map[int64]*Bill), details: make(map[int64][]*BillDetail), failAddDetailAfter: -1}
}

func (m *mockBillRepo) snapshot() func() {
	bills := make(map[int64]*Bill, len(m.bills))
	for id, b := range m.bills {
		cp := *b
		bills[id] = &cp
	}
	details := make(map[int64][]*BillDetail, len(m.details))
	for id, ds := range m.details {
		details[id] = append([]*BillDetail(nil), ds...)
	}
	nextID := m.nextID
	return func() {
		m.bills = bills
		m.details = details
		m.nextID = nextID
	}
}

func (m *mockBillRepo) Create(_ context.Context, b *Bill) error {
	m.nextID++
	b.ID = m.nextID
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bills[b.ID] = &cp
	return nil
}

func (m *mockBillRepo) GetByID(_ context.Context, id int64) (*Bill, error) {
	b, ok := m.bills[id]
	if !ok {
		return nil, apperr.NotFound("mock.GetByID", "bill %d not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m *mockBillRepo) GetForUpdate(ctx context.Context, id int64) (*Bill, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBillRepo) Update(_ context.Context, b *Bill) error {
	if _, ok := m.bills[b.ID]; !ok {
		return apperr.NotFound("mock.Update", "bill %d not found", b.ID)
	}
	cp := *b
	cp.Details = nil
	m.bills[b.ID] = &cp
	return nil
}

func (m *mockBillRepo) Delete(_ context.Context, id int64) error {
	if _, ok := m.bills[id]; !ok {
		return apperr.NotFound("mock.Delete", "bill %d not found", id)
	}
	delete(m.bills, id)
	delete(m.details, id)
	return nil
}

func (m *mockBillRepo) sorted() []*Bill {
	var out []*Bill
	for _, b := range m.bills {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockBillRepo) List(_ context.Context, limit, offset int) ([]*Bill, int, error) {
	all := m.sorted()
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *mockBillRepo) ListByPatient(_ context.Context, patientID int64) ([]*Bill, error) {
	var out []*Bill
	for _, b := range m.sorted() {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockBillRepo) AddDetail(_ context.Context, d *BillDetail) error {
	if m.failAddDetailAfter >= 0 && m.added >= m.failAddDetailAfter {
		return errors.New("insert failed")
	}
	m.added++
	m.nextID++
	d.ID = m.nextID
	cp := *d
	m.details[d.BillID] = append(m.details[d.BillID], &cp)
	return nil
}

func (m *mockBillRepo) DeleteDetails(_ context.Context, billID int64) error {
	delete(m.details, billID)
	return nil
}

func (m *mockBillRepo) GetDetails(_ context.Context, billID int64) ([]*BillDetail, error) {
	var out []*BillDetail
	for _, d := range m.details[billID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

// mockTxManager runs fn inline and restores the repository when fn fails.
type mockTxManager struct {
	repo  *mockBillRepo
	calls int
}

func (m *mockTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	restore := m.repo.snapshot()
	if err := fn(ctx); err != nil {
		restore()
		return err
	}
	return nil
}

type mockFeeLookup struct {
	fees map[int64]*appointment.Fees
}

func (m *mockFeeLookup) GetFees(_ context.Context, appointmentID int64) (*appointment.Fees, error) {
	f, ok := m.fees[appointmentID]
	if !ok {
		return nil, apperr.NotFound("mock.GetFees", "appointment %d not found", appointmentID)
	}
	return f, nil
}

func newTestService() (*Service, *mockBillRepo, *mockFeeLookup) {
	repo := newMockBillRepo()
	fees := &mockFeeLookup{fees: make(map[int64]*appointment.Fees)}
	return NewService(repo, &mockTxManager{repo: repo}, fees), repo, fees
}
