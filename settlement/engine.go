package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"orderflow/auth"
	"orderflow/config"
	"orderflow/metrics"
	"orderflow/order"
)

// ErrNoAgentRate signals the order's agent role has no configured commission
// rate. Only custody-carrying roles earn commission.
var ErrNoAgentRate = errors.New("settlement: no commission rate for role")

// OrderWriter is the slice of the order repository the engine writes through.
type OrderWriter interface {
	FreezeSplit(ctx context.Context, tx pgx.Tx, id string, seller, referral int64) error
	SetAgentCommissionAmount(ctx context.Context, tx pgx.Tx, id string, amount int64) error
	SetPayoutStatus(ctx context.Context, tx pgx.Tx, id, column string, status order.PayoutStatus) error
}

// Engine computes financial splits and proposes payout requests. It never
// marks money as paid.
type Engine struct {
	rates  config.Rates
	orders OrderWriter
	log    *zap.Logger
}

func NewEngine(rates config.Rates, orders OrderWriter, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{rates: rates, orders: orders, log: log}
}

// CommissionRate returns the configured rate for an agent role.
func (e *Engine) CommissionRate(role auth.Role) (float64, error) {
	switch role {
	case auth.RoleFastDeliveryAgent:
		return e.rates.FastDeliveryRate, nil
	case auth.RolePickupDelivery:
		return e.rates.PickupDeliveryRate, nil
	case auth.RolePickupSiteManager:
		return e.rates.PickupSiteRate, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNoAgentRate, role)
	}
}

// Split divides the order total. The referral cut is funded from the
// platform margin, never from seller proceeds.
func (e *Engine) Split(total int64, agentRole auth.Role, hasReferral bool) (Split, error) {
	rate, err := e.CommissionRate(agentRole)
	if err != nil {
		return Split{}, err
	}

	s := Split{
		SellerAmount:    roundShare(total, e.rates.SellerShare),
		AgentCommission: roundShare(total, rate),
		PlatformMargin:  roundShare(total, e.rates.PlatformMarginRate),
	}
	if hasReferral {
		s.ReferralCut = roundShare(s.PlatformMargin, e.rates.ReferralShareOfMargin)
	}
	return s, nil
}

// OnSellerPickup freezes the role-independent amounts when custody leaves
// the seller so later disputes settle against what was in force at pickup.
func (e *Engine) OnSellerPickup(ctx context.Context, tx pgx.Tx, ord order.Order) error {
	seller := roundShare(ord.TotalAmount, e.rates.SellerShare)
	margin := roundShare(ord.TotalAmount, e.rates.PlatformMarginRate)

	var referral int64
	if ord.ReferralUserID != nil {
		referral = roundShare(margin, e.rates.ReferralShareOfMargin)
	}

	if err := e.orders.FreezeSplit(ctx, tx, ord.ID, seller, referral); err != nil {
		return err
	}

	e.log.Info("settlement split frozen",
		zap.String("order_id", ord.ID),
		zap.Int64("seller_amount", seller),
		zap.Int64("referral_amount", referral),
	)
	return nil
}

// OnBuyerDelivery proposes the payout requests for a completed delivery:
// seller payout, agent commission, and a referral cut when the order carries
// one. Idempotent: an existing pending or approved request for a category is
// left untouched.
func (e *Engine) OnBuyerDelivery(ctx context.Context, tx pgx.Tx, ord order.Order) error {
	if ord.AssignedAgentID == nil || ord.AgentRole == nil {
		return fmt.Errorf("settlement: order %s has no agent of record", ord.ID)
	}

	rate, err := e.CommissionRate(*ord.AgentRole)
	if err != nil {
		return err
	}
	commission := roundShare(ord.TotalAmount, rate)
	if err := e.orders.SetAgentCommissionAmount(ctx, tx, ord.ID, commission); err != nil {
		return err
	}

	sellerAmount := roundShare(ord.TotalAmount, e.rates.SellerShare)
	if ord.SellerPayoutAmount != nil {
		sellerAmount = *ord.SellerPayoutAmount
	}

	if err := e.propose(ctx, tx, ord.ID, CategorySellerPayout, ord.SellerID, sellerAmount); err != nil {
		return err
	}
	if err := e.orders.SetPayoutStatus(ctx, tx, ord.ID, "seller_payout_status", order.PayoutAwaiting); err != nil {
		return err
	}

	if err := e.propose(ctx, tx, ord.ID, CategoryAgentCommission, *ord.AssignedAgentID, commission); err != nil {
		return err
	}
	if err := e.orders.SetPayoutStatus(ctx, tx, ord.ID, "agent_commission_status", order.PayoutAwaiting); err != nil {
		return err
	}

	if ord.ReferralUserID != nil {
		referral := roundShare(roundShare(ord.TotalAmount, e.rates.PlatformMarginRate), e.rates.ReferralShareOfMargin)
		if ord.ReferralAmount != nil {
			referral = *ord.ReferralAmount
		}
		if referral > 0 {
			if err := e.propose(ctx, tx, ord.ID, CategoryReferralCommission, *ord.ReferralUserID, referral); err != nil {
				return err
			}
		}
	}

	return nil
}

// propose inserts one pending payout request unless the category already has
// a live (pending or approved) request for the order.
func (e *Engine) propose(ctx context.Context, tx pgx.Tx, orderID string, category Category, beneficiaryID string, amount int64) error {
	const query = `
		INSERT INTO payout_requests (order_id, approval_type, beneficiary_id, requested_by, amount, status)
		SELECT $1, $2, $3, $3, $4, 'pending'
		WHERE NOT EXISTS (
			SELECT 1 FROM payout_requests
			WHERE order_id = $1 AND approval_type = $2 AND status IN ('pending', 'approved')
		)
	`
	tag, err := tx.Exec(ctx, query, orderID, category, beneficiaryID, amount)
	if err != nil {
		return fmt.Errorf("settlement: propose %s: %w", category, err)
	}
	if tag.RowsAffected() == 0 {
		e.log.Info("payout request already proposed",
			zap.String("order_id", orderID),
			zap.String("category", string(category)),
		)
		return nil
	}

	metrics.PayoutRequestsCreatedTotal.WithLabelValues(string(category)).Inc()
	e.log.Info("payout request proposed",
		zap.String("order_id", orderID),
		zap.String("category", string(category)),
		zap.String("beneficiary_id", beneficiaryID),
		zap.Int64("amount", amount),
	)
	return nil
}

func roundShare(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate))
}
