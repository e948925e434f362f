package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"orderflow/auth"
	"orderflow/order"
	"orderflow/settlement"
)

var admin = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}

func pendingRequest() settlement.PayoutRequest {
	return settlement.PayoutRequest{
		ID:            "req-1",
		OrderID:       "order-1",
		ApprovalType:  settlement.CategorySellerPayout,
		BeneficiaryID: "seller-1",
		RequestedBy:   "seller-1",
		Amount:        8_500,
		Status:        settlement.RequestPending,
	}
}

func testOrder() order.Order {
	return order.Order{
		ID:          "order-1",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		TotalAmount: 10_000,
		Status:      order.StatusDelivered,
	}
}

func newFixture() (*Service, *fakePool, *fakeRequests, *fakeOrders, *fakeLedger) {
	pool := &fakePool{}
	reqs := &fakeRequests{req: pendingRequest()}
	orders := &fakeOrders{ord: testOrder(), statuses: map[string]order.PayoutStatus{}}
	ledger := &fakeLedger{balance: 100_000}
	svc := NewService(pool, reqs, orders, ledger, nil, nil, nil)
	return svc, pool, reqs, orders, ledger
}

func TestDecide_NonAdmin(t *testing.T) {
	svc, _, _, _, _ := newFixture()

	_, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionApprove,
		Actor:     auth.Identity{UserID: "agent-1", Role: auth.RoleFastDeliveryAgent},
	})
	if !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("expected ErrAdminOnly, got %v", err)
	}
}

func TestDecide_RejectWithoutNotes(t *testing.T) {
	svc, pool, _, _, _ := newFixture()

	_, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionReject,
		Actor:     admin,
	})
	if !errors.Is(err, ErrNotesRequired) {
		t.Fatalf("expected ErrNotesRequired, got %v", err)
	}
	if pool.tx != nil {
		t.Error("expected no transaction for an invalid request")
	}
}

func TestDecide_Reject(t *testing.T) {
	svc, pool, reqs, _, ledger := newFixture()

	decided, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionReject,
		Actor:     admin,
		Notes:     "proof insufficient",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if decided.Status != settlement.RequestRejected {
		t.Errorf("status = %s, want rejected", decided.Status)
	}
	if reqs.decidedNotes != "proof insufficient" {
		t.Errorf("notes = %q", reqs.decidedNotes)
	}
	if len(ledger.transfers) != 0 {
		t.Error("reject must not move money")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestDecide_AlreadyDecided(t *testing.T) {
	svc, pool, reqs, _, ledger := newFixture()
	reqs.req.Status = settlement.RequestRejected

	_, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionApprove,
		Actor:     admin,
	})
	if !errors.Is(err, ErrRequestNotPending) {
		t.Fatalf("expected ErrRequestNotPending, got %v", err)
	}
	if len(ledger.transfers) != 0 {
		t.Error("no money may move on a decided request")
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestDecide_Approve(t *testing.T) {
	svc, pool, _, orders, ledger := newFixture()

	decided, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionApprove,
		Actor:     admin,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != settlement.RequestApproved {
		t.Errorf("status = %s, want approved", decided.Status)
	}
	if len(ledger.transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(ledger.transfers))
	}
	tr := ledger.transfers[0]
	if tr.to != "seller-1" || tr.amount != 8_500 {
		t.Errorf("transfer = %+v", tr)
	}
	if orders.statuses["seller_payout_status"] != order.PayoutPaid {
		t.Error("expected seller payout status flipped to paid")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestDecide_ApproveExceedsTotal(t *testing.T) {
	svc, pool, reqs, _, ledger := newFixture()
	// 2,000 already released; 8,500 more would overshoot the 10,000 total.
	reqs.sumApproved = 2_000

	_, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionApprove,
		Actor:     admin,
	})
	if !errors.Is(err, ErrApprovalExceedsTotal) {
		t.Fatalf("expected ErrApprovalExceedsTotal, got %v", err)
	}
	if len(ledger.transfers) != 0 {
		t.Error("no money may move")
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestDecide_InsufficientEscrow(t *testing.T) {
	svc, pool, _, _, ledger := newFixture()
	ledger.balance = 100

	_, err := svc.Decide(context.Background(), DecideParams{
		RequestID: "req-1",
		Decision:  DecisionApprove,
		Actor:     admin,
	})
	if !errors.Is(err, ErrInsufficientLedgerBalance) {
		t.Fatalf("expected ErrInsufficientLedgerBalance, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback")
	}
}

func TestListPending_AdminOnly(t *testing.T) {
	svc, _, _, _, _ := newFixture()

	if _, err := svc.ListPending(context.Background(), auth.Identity{UserID: "u", Role: auth.RoleBuyer}, ListFilter{}); !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("expected ErrAdminOnly, got %v", err)
	}
}

// --- fakes ---

type fakeRequests struct {
	req          settlement.PayoutRequest
	sumApproved  int64
	decidedNotes string
}

func (f *fakeRequests) ListPending(ctx context.Context, filter ListFilter) ([]settlement.PayoutRequest, error) {
	return []settlement.PayoutRequest{f.req}, nil
}

func (f *fakeRequests) Get(ctx context.Context, id string) (settlement.PayoutRequest, error) {
	return f.req, nil
}

func (f *fakeRequests) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (settlement.PayoutRequest, error) {
	return f.req, nil
}

func (f *fakeRequests) MarkDecided(ctx context.Context, tx pgx.Tx, id string, status settlement.RequestStatus, adminID, notes string) (settlement.PayoutRequest, error) {
	if f.req.Status != settlement.RequestPending {
		return settlement.PayoutRequest{}, ErrRequestNotPending
	}
	f.req.Status = status
	f.decidedNotes = notes
	return f.req, nil
}

func (f *fakeRequests) SumApproved(ctx context.Context, tx pgx.Tx, orderID string) (int64, error) {
	return f.sumApproved, nil
}

type fakeOrders struct {
	ord      order.Order
	statuses map[string]order.PayoutStatus
}

func (f *fakeOrders) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (order.Order, error) {
	return f.ord, nil
}

func (f *fakeOrders) SetPayoutStatus(ctx context.Context, tx pgx.Tx, id, column string, status order.PayoutStatus) error {
	f.statuses[column] = status
	return nil
}

type transfer struct {
	from, to string
	amount   int64
}

type fakeLedger struct {
	balance   int64
	transfers []transfer
}

func (f *fakeLedger) BalanceForUpdate(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	return f.balance, nil
}

func (f *fakeLedger) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64, orderID, requestID *string, reason string) error {
	f.transfers = append(f.transfers, transfer{from: from, to: to, amount: amount})
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
