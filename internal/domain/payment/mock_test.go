package payment

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/events"
)

// store holds bills and transactions behind one lock so the fake TxManager
// can snapshot and restore both together.
type store struct {
	mu    sync.Mutex
	bills map[int64]*billing.Bill
	txns  map[int64]*Transaction
	seq   int64
	clock time.Time
}

func newStore() *store {
	return &store{
		bills: make(map[int64]*billing.Bill),
		txns:  make(map[int64]*Transaction),
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (s *store) addBill(id int64, amount string) *billing.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &billing.Bill{ID: id, AppointmentID: 1, PatientID: 1, Amount: decimal.RequireFromString(amount), Status: billing.BillUnpaid}
	s.bills[id] = b
	cp := *b
	return &cp
}

func (s *store) bill(id int64) billing.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.bills[id]
}

func (s *store) txnsFor(billID int64) []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for _, t := range s.txns {
		if t.BillID == billID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func countStatus(txns []*Transaction, status TransactionStatus) int {
	n := 0
	for _, t := range txns {
		if t.Status == status {
			n++
		}
	}
	return n
}

type fakeTxnRepo struct{ s *store }

func (r *fakeTxnRepo) Create(_ context.Context, t *Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.OrderCode != nil {
		for _, other := range r.s.txns {
			if other.OrderCode != nil && *other.OrderCode == *t.OrderCode {
				return errors.New("duplicate order code")
			}
		}
	}
	r.s.seq++
	t.ID, t.Seq = r.s.seq, r.s.seq
	// every transaction shares one timestamp so ordering relies on seq
	t.CreatedAt, t.UpdatedAt = r.s.clock, r.s.clock
	cp := *t
	r.s.txns[t.ID] = &cp
	return nil
}

func (r *fakeTxnRepo) LatestByBill(_ context.Context, billID int64) (*Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *Transaction
	for _, t := range r.s.txns {
		if t.BillID != billID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) ||
			(t.CreatedAt.Equal(latest.CreatedAt) && t.Seq > latest.Seq) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeTxnRepo) GetByOrderCode(_ context.Context, orderCode int64) (*Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.txns {
		if t.OrderCode != nil && *t.OrderCode == orderCode {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("fake.GetByOrderCode", "no transaction for order code %d", orderCode)
}

func (r *fakeTxnRepo) CompareAndSetStatus(_ context.Context, id int64, from, to TransactionStatus, method PaymentMethod) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txns[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if method != "" {
		t.PaymentMethod = method
	}
	return true, nil
}

func (r *fakeTxnRepo) ListByBill(_ context.Context, billID int64) ([]*Transaction, error) {
	out := r.s.txnsFor(billID)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *fakeTxnRepo) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Transaction
	for _, t := range r.s.txns {
		if t.Status == TxnPending && t.OrderCode != nil && t.CreatedAt.Before(olderThan) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeBillStore struct {
	s          *store
	failUpdate bool
}

func (b *fakeBillStore) GetByID(_ context.Context, id int64) (*billing.Bill, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bill, ok := b.s.bills[id]
	if !ok {
		return nil, apperr.NotFound("fake.GetByID", "bill %d not found", id)
	}
	cp := *bill
	return &cp, nil
}

func (b *fakeBillStore) GetForUpdate(ctx context.Context, id int64) (*billing.Bill, error) {
	return b.GetByID(ctx, id)
}

func (b *fakeBillStore) Update(_ context.Context, bill *billing.Bill) error {
	if b.failUpdate {
		return errors.New("update failed")
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	cp := *bill
	b.s.bills[bill.ID] = &cp
	return nil
}

// fakeTx serializes transactions and restores the store when fn fails.
type fakeTx struct {
	s  *store
	mu sync.Mutex
}

func (f *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.s.mu.Lock()
	bills := make(map[int64]*billing.Bill, len(f.s.bills))
	for id, b := range f.s.bills {
		cp := *b
		bills[id] = &cp
	}
	txns := make(map[int64]*Transaction, len(f.s.txns))
	for id, t := range f.s.txns {
		cp := *t
		txns[id] = &cp
	}
	seq := f.s.seq
	f.s.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.s.mu.Lock()
		f.s.bills, f.s.txns, f.s.seq = bills, txns, seq
		f.s.mu.Unlock()
		return err
	}
	return nil
}

type fakeGateway struct {
	mu          sync.Mutex
	created     []LinkRequest
	cancelled   []int64
	createErr   error
	cancelErr   error
	infoErr     error
	linkStatus  map[int64]LinkStatus
	webhook     *WebhookData
	webhookErr  error
	createDelay time.Duration
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{linkStatus: make(map[int64]LinkStatus)}
}

func (g *fakeGateway) CreateLink(ctx context.Context, req LinkRequest) (*Link, error) {
	if g.createDelay > 0 {
		select {
		case <-time.After(g.createDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	g.linkStatus[req.OrderCode] = LinkPending
	return &Link{OrderCode: req.OrderCode, CheckoutURL: "https://pay.example/web/" + decimal.NewFromInt(req.OrderCode).String(), Status: LinkPending}, nil
}

func (g *fakeGateway) CancelLink(_ context.Context, orderCode int64, _ string) (*LinkInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	g.cancelled = append(g.cancelled, orderCode)
	g.linkStatus[orderCode] = LinkCancelled
	return &LinkInfo{OrderCode: orderCode, Status: LinkCancelled}, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte) (*WebhookData, error) {
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	cp := *g.webhook
	return &cp, nil
}

func (g *fakeGateway) GetLinkInfo(_ context.Context, orderCode int64) (*LinkInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.infoErr != nil {
		return nil, g.infoErr
	}
	status, ok := g.linkStatus[orderCode]
	if !ok {
		return nil, errors.New("link not found")
	}
	return &LinkInfo{OrderCode: orderCode, Status: status, Amount: decimal.NewFromInt(240)}, nil
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store   *store
	txns    *fakeTxnRepo
	bills   *fakeBillStore
	gateway *fakeGateway
	pub     *recordingPublisher
	orch    *Orchestrator
}

func newTestEnv() *testEnv {
	s := newStore()
	env := &testEnv{
		store:   s,
		txns:    &fakeTxnRepo{s: s},
		bills:   &fakeBillStore{s: s},
		gateway: newFakeGateway(),
		pub:     &recordingPublisher{},
	}
	ledger := NewLedger(env.txns)
	ledger.now = func() time.Time { return s.clock }
	env.orch = NewOrchestrator(env.bills, ledger, env.gateway, &fakeTx{s: s}, env.pub,
		zerolog.New(io.Discard), Config{ReturnURLBase: "https://clinic.example/", GatewayTimeout: time.Second})
	env.orch.now = func() time.Time { return s.clock }
	return env
}
