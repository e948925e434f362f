package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/metrics"
	"orderflow/order"
	"orderflow/settlement"
	"orderflow/wallet"
)

var (
	// ErrRequestNotPending signals the request was already decided.
	ErrRequestNotPending = errors.New("approval: request is not pending")
	// ErrNotesRequired signals a rejection without a reason.
	ErrNotesRequired = errors.New("approval: review notes required to reject")
	// ErrInsufficientLedgerBalance signals the escrow cannot cover the amount.
	ErrInsufficientLedgerBalance = errors.New("approval: insufficient ledger balance")
	// ErrApprovalExceedsTotal signals approving would release more than the
	// order total across categories.
	ErrApprovalExceedsTotal = errors.New("approval: approved amounts would exceed order total")
	// ErrAdminOnly signals the caller is not an admin.
	ErrAdminOnly = errors.New("approval: admin only")
)

// Decision is an admin's verdict on a payout request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RequestStore is the repository surface the gate uses.
type RequestStore interface {
	ListPending(ctx context.Context, filter ListFilter) ([]settlement.PayoutRequest, error)
	Get(ctx context.Context, id string) (settlement.PayoutRequest, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (settlement.PayoutRequest, error)
	MarkDecided(ctx context.Context, tx pgx.Tx, id string, status settlement.RequestStatus, adminID, notes string) (settlement.PayoutRequest, error)
	SumApproved(ctx context.Context, tx pgx.Tx, orderID string) (int64, error)
}

// OrderStore is the slice of the order repository the gate needs.
type OrderStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (order.Order, error)
	SetPayoutStatus(ctx context.Context, tx pgx.Tx, id, column string, status order.PayoutStatus) error
}

// LedgerStore is the wallet surface the gate needs.
type LedgerStore interface {
	BalanceForUpdate(ctx context.Context, tx pgx.Tx, userID string) (int64, error)
	Transfer(ctx context.Context, tx pgx.Tx, fromUserID, toUserID string, amount int64, orderID, payoutRequestID *string, reason string) error
}

// OutboxWriter enqueues an event in the decision transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Notifier receives committed decisions.
type Notifier interface {
	PayoutDecided(req settlement.PayoutRequest)
}

// Service is the admin approval gate: the only component that converts a
// proposed payout into an applied balance change.
type Service struct {
	pool     order.TxBeginner
	repo     RequestStore
	orders   OrderStore
	ledger   LedgerStore
	outbox   OutboxWriter
	notifier Notifier
	log      *zap.Logger
}

func NewService(pool order.TxBeginner, repo RequestStore, orders OrderStore, ledger LedgerStore, outbox OutboxWriter, notifier Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		orders:   orders,
		ledger:   ledger,
		outbox:   outbox,
		notifier: notifier,
		log:      log,
	}
}

// ListPending returns the pending queue. Admin only.
func (s *Service) ListPending(ctx context.Context, actor auth.Identity, filter ListFilter) ([]settlement.PayoutRequest, error) {
	if !auth.CanPerform(actor.Role, auth.ActionListApprovals) {
		return nil, ErrAdminOnly
	}
	return s.repo.ListPending(ctx, filter)
}

// DecideParams describe one admin decision.
type DecideParams struct {
	RequestID string
	Decision  Decision
	Actor     auth.Identity
	Notes     string
}

// Decide applies an admin decision. On approve the request flip, the escrow
// debit, the beneficiary credit, and the order's payout-status flip commit
// as one transaction; on reject nothing moves.
func (s *Service) Decide(ctx context.Context, params DecideParams) (settlement.PayoutRequest, error) {
	if !auth.CanPerform(params.Actor.Role, auth.ActionDecideApproval) {
		return settlement.PayoutRequest{}, ErrAdminOnly
	}
	switch params.Decision {
	case DecisionApprove, DecisionReject:
	default:
		return settlement.PayoutRequest{}, fmt.Errorf("approval: unknown decision %q", params.Decision)
	}
	if params.Decision == DecisionReject && params.Notes == "" {
		return settlement.PayoutRequest{}, ErrNotesRequired
	}

	// Resolve the order id before taking locks so the order row is always
	// locked before the request row, matching the handoff path.
	peek, err := s.repo.Get(ctx, params.RequestID)
	if err != nil {
		return settlement.PayoutRequest{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return settlement.PayoutRequest{}, fmt.Errorf("approval: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ord, err := s.orders.GetForUpdate(ctx, tx, peek.OrderID)
	if err != nil {
		return settlement.PayoutRequest{}, err
	}

	req, err := s.repo.GetForUpdate(ctx, tx, params.RequestID)
	if err != nil {
		return settlement.PayoutRequest{}, err
	}
	if req.Status != settlement.RequestPending {
		return settlement.PayoutRequest{}, ErrRequestNotPending
	}

	var decided settlement.PayoutRequest
	if params.Decision == DecisionReject {
		decided, err = s.repo.MarkDecided(ctx, tx, req.ID, settlement.RequestRejected, params.Actor.UserID, params.Notes)
		if err != nil {
			return settlement.PayoutRequest{}, err
		}
	} else {
		decided, err = s.approve(ctx, tx, ord, req, params)
		if err != nil {
			return settlement.PayoutRequest{}, err
		}
	}

	if s.outbox != nil {
		payload := map[string]any{
			"payout_request_id": decided.ID,
			"order_id":          decided.OrderID,
			"approval_type":     decided.ApprovalType,
			"status":            decided.Status,
			"amount":            decided.Amount,
			"decided_by":        params.Actor.UserID,
		}
		if err := s.outbox.Enqueue(ctx, tx, "payout.decided", payload); err != nil {
			return settlement.PayoutRequest{}, fmt.Errorf("approval: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return settlement.PayoutRequest{}, fmt.Errorf("approval: commit decision: %w", err)
	}

	metrics.PayoutDecisionsTotal.WithLabelValues(string(params.Decision)).Inc()
	s.log.Info("payout request decided",
		zap.String("request_id", decided.ID),
		zap.String("order_id", decided.OrderID),
		zap.String("category", string(decided.ApprovalType)),
		zap.String("status", string(decided.Status)),
		zap.String("admin_id", params.Actor.UserID),
	)
	if s.notifier != nil {
		s.notifier.PayoutDecided(decided)
	}
	return decided, nil
}

func (s *Service) approve(ctx context.Context, tx pgx.Tx, ord order.Order, req settlement.PayoutRequest, params DecideParams) (settlement.PayoutRequest, error) {
	approved, err := s.repo.SumApproved(ctx, tx, ord.ID)
	if err != nil {
		return settlement.PayoutRequest{}, err
	}
	if approved+req.Amount > ord.TotalAmount {
		return settlement.PayoutRequest{}, fmt.Errorf("%w: %d approved + %d requested > %d total",
			ErrApprovalExceedsTotal, approved, req.Amount, ord.TotalAmount)
	}

	balance, err := s.ledger.BalanceForUpdate(ctx, tx, wallet.PlatformAccountID)
	if err != nil {
		return settlement.PayoutRequest{}, err
	}
	if balance < req.Amount {
		return settlement.PayoutRequest{}, fmt.Errorf("%w: escrow holds %d, need %d", ErrInsufficientLedgerBalance, balance, req.Amount)
	}

	decided, err := s.repo.MarkDecided(ctx, tx, req.ID, settlement.RequestApproved, params.Actor.UserID, params.Notes)
	if err != nil {
		return settlement.PayoutRequest{}, err
	}

	reason := fmt.Sprintf("%s release for order %s", req.ApprovalType, ord.ID)
	if err := s.ledger.Transfer(ctx, tx, wallet.PlatformAccountID, req.BeneficiaryID, req.Amount, &ord.ID, &req.ID, reason); err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return settlement.PayoutRequest{}, fmt.Errorf("%w: concurrent release drained escrow", ErrInsufficientLedgerBalance)
		}
		return settlement.PayoutRequest{}, err
	}

	if column, ok := payoutStatusColumn(req.ApprovalType); ok {
		if err := s.orders.SetPayoutStatus(ctx, tx, ord.ID, column, order.PayoutPaid); err != nil {
			return settlement.PayoutRequest{}, err
		}
	}

	return decided, nil
}

func payoutStatusColumn(category settlement.Category) (string, bool) {
	switch category {
	case settlement.CategorySellerPayout:
		return "seller_payout_status", true
	case settlement.CategoryAgentCommission:
		return "agent_commission_status", true
	default:
		return "", false
	}
}
