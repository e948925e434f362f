package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow/approval"
	"orderflow/auth"
	"orderflow/handoff"
	"orderflow/order"
	"orderflow/wallet"
)

// Harness bundles the services the actors drive. All actors go through the
// real domain code, never raw status UPDATEs, so the oracles observe what
// production writes would produce.
type Harness struct {
	Pool      *pgxpool.Pool
	Orders    *order.Service
	Handoffs  *handoff.Service
	Approvals *approval.Service
	Wallets   *wallet.Repository
}

func (h *Harness) createOrder(ctx context.Context, buyerID, sellerID string, method order.DeliveryMethod, total int64, referral *string) (string, error) {
	var id string
	err := h.Pool.QueryRow(ctx, `
        INSERT INTO orders (buyer_id, seller_id, delivery_method, total_amount, referral_user_id)
        VALUES ($1, $2, $3, $4, $5) RETURNING id
    `, buyerID, sellerID, method, total, referral).Scan(&id)
	return id, err
}

func sleepJitter(base, spread int) {
	time.Sleep(time.Duration(base+rand.Intn(spread)) * time.Millisecond)
}

// LifecycleRunner walks freshly created orders through the whole machine:
// confirm, claim, pickup verification, optional site handoff, delivery
// verification. Errors from contention or chaos are expected and skipped;
// only the oracles judge correctness.
func LifecycleRunner(ctx context.Context, h *Harness, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		runOneLifecycle(ctx, h)
		sleepJitter(10, 30)
	}
}

func runOneLifecycle(ctx context.Context, h *Harness) {
	buyer := auth.Identity{UserID: "buyer-" + uuid.NewString(), Role: auth.RoleBuyer}
	seller := auth.Identity{UserID: "seller-" + uuid.NewString(), Role: auth.RoleSeller}

	method := order.DeliveryHome
	agentRole := auth.RoleFastDeliveryAgent
	if rand.Intn(2) == 0 {
		method = order.DeliveryPickupSite
		agentRole = auth.RolePickupDelivery
	}
	agent := auth.Identity{UserID: "agent-" + uuid.NewString(), Role: agentRole}

	var referral *string
	if rand.Intn(4) == 0 {
		r := "referrer-" + uuid.NewString()
		referral = &r
	}

	total := int64(1_000 + rand.Intn(100_000))
	orderID, err := h.createOrder(ctx, buyer.UserID, seller.UserID, method, total, referral)
	if err != nil {
		return
	}

	if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerConfirm, Actor: buyer}); err != nil {
		return
	}

	// Occasional pre-pickup cancellation path.
	if rand.Intn(10) == 0 {
		_, _ = h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerCancel, Actor: buyer, Reason: "changed my mind"})
		return
	}

	if _, err := h.Orders.Claim(ctx, orderID, agent); err != nil {
		return
	}
	if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerStartPickup, Actor: agent}); err != nil {
		return
	}

	// Seller hands the parcel over against a one-time code.
	code, err := h.Handoffs.IssueCode(ctx, handoff.IssueParams{OrderID: orderID, Stage: handoff.StageSellerPickup, Actor: seller})
	if err != nil {
		return
	}
	if _, err := h.Handoffs.Verify(ctx, handoff.VerifyParams{OrderID: orderID, Stage: handoff.StageSellerPickup, Value: code.Value, Actor: agent}); err != nil {
		return
	}

	deliverer := agent
	if method == order.DeliveryPickupSite {
		if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerArriveSite, Actor: agent}); err != nil {
			return
		}
		psm := auth.Identity{UserID: "psm-" + uuid.NewString(), Role: auth.RolePickupSiteManager}
		siteCode, err := h.Handoffs.IssueCode(ctx, handoff.IssueParams{OrderID: orderID, Stage: handoff.StageSiteHandoff, Actor: agent})
		if err != nil {
			return
		}
		if _, err := h.Handoffs.Verify(ctx, handoff.VerifyParams{OrderID: orderID, Stage: handoff.StageSiteHandoff, Value: siteCode.Value, Actor: psm}); err != nil {
			return
		}
		deliverer = psm
	}

	if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerStartDelivery, Actor: deliverer}); err != nil {
		return
	}

	deliveryCode, err := h.Handoffs.IssueCode(ctx, handoff.IssueParams{OrderID: orderID, Stage: handoff.StageBuyerDelivery, Actor: buyer})
	if err != nil {
		return
	}
	_, _ = h.Handoffs.Verify(ctx, handoff.VerifyParams{
		OrderID: orderID,
		Stage:   handoff.StageBuyerDelivery,
		Value:   deliveryCode.Value,
		Actor:   deliverer,
		Evidence: &handoff.EvidenceInput{
			Method: handoff.EvidencePhoto,
			Data:   "proof-" + orderID,
		},
	})
}

// DoubleVerifier races two concurrent verifications of the same code and
// fails loudly if both succeed.
func DoubleVerifier(ctx context.Context, h *Harness, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := raceOneCode(ctx, h); err != nil {
			return err
		}
		sleepJitter(30, 50)
	}
}

func raceOneCode(ctx context.Context, h *Harness) error {
	buyer := auth.Identity{UserID: "buyer-" + uuid.NewString(), Role: auth.RoleBuyer}
	seller := auth.Identity{UserID: "seller-" + uuid.NewString(), Role: auth.RoleSeller}
	agent := auth.Identity{UserID: "agent-" + uuid.NewString(), Role: auth.RoleFastDeliveryAgent}

	orderID, err := h.createOrder(ctx, buyer.UserID, seller.UserID, order.DeliveryHome, 5_000, nil)
	if err != nil {
		return nil
	}
	if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerConfirm, Actor: buyer}); err != nil {
		return nil
	}
	if _, err := h.Orders.Claim(ctx, orderID, agent); err != nil {
		return nil
	}
	if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerStartPickup, Actor: agent}); err != nil {
		return nil
	}
	code, err := h.Handoffs.IssueCode(ctx, handoff.IssueParams{OrderID: orderID, Stage: handoff.StageSellerPickup, Actor: seller})
	if err != nil {
		return nil
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.Handoffs.Verify(ctx, handoff.VerifyParams{
				OrderID: orderID,
				Stage:   handoff.StageSellerPickup,
				Value:   code.Value,
				Actor:   agent,
			})
			results <- err
		}()
	}
	successes := 0
	for i := 0; i < 2; i++ {
		if <-results == nil {
			successes++
		}
	}
	if successes > 1 {
		return fmt.Errorf("code %s on order %s verified twice", code.Value, orderID)
	}
	return nil
}

// AdminDecider drains pending payout requests, approving most and rejecting
// some with notes.
func AdminDecider(ctx context.Context, h *Harness, stop <-chan struct{}) error {
	admin := auth.Identity{UserID: "admin-stress", Role: auth.RoleAdmin}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		pending, err := h.Approvals.ListPending(ctx, admin, approval.ListFilter{Limit: 20})
		if err != nil {
			sleepJitter(50, 50)
			continue
		}
		for _, req := range pending {
			params := approval.DecideParams{RequestID: req.ID, Decision: approval.DecisionApprove, Actor: admin}
			if rand.Intn(5) == 0 {
				params.Decision = approval.DecisionReject
				params.Notes = "spot check failed"
			}
			// Contention with a concurrent decision or an empty escrow is
			// expected; the oracles catch real violations.
			_, _ = h.Approvals.Decide(ctx, params)
		}
		sleepJitter(40, 60)
	}
}

// PlatformFunder tops up the escrow wallet so approvals have funds to move.
func PlatformFunder(ctx context.Context, h *Harness, stop <-chan struct{}) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			tx, err := h.Pool.Begin(ctx)
			if err != nil {
				continue
			}
			if err := h.Wallets.Credit(ctx, tx, wallet.PlatformAccountID, 1_000_000, nil, "stress escrow top-up"); err == nil {
				_ = tx.Commit(ctx)
			} else {
				_ = tx.Rollback(ctx)
			}
		}
	}
}

// StaleCodeProber issues a replacement code and checks the superseded one no
// longer verifies.
func StaleCodeProber(ctx context.Context, h *Harness, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := probeSupersede(ctx, h); err != nil {
			return err
		}
		sleepJitter(60, 80)
	}
}

func probeSupersede(ctx context.Context, h *Harness) error {
	buyer := auth.Identity{UserID: "buyer-" + uuid.NewString(), Role: auth.RoleBuyer}
	seller := auth.Identity{UserID: "seller-" + uuid.NewString(), Role: auth.RoleSeller}
	agent := auth.Identity{UserID: "agent-" + uuid.NewString(), Role: auth.RoleFastDeliveryAgent}

	orderID, err := h.createOrder(ctx, buyer.UserID, seller.UserID, order.DeliveryHome, 3_000, nil)
	if err != nil {
		return nil
	}
	if _, err := h.Orders.Transition(ctx, order.TransitionParams{OrderID: orderID, Trigger: order.TriggerConfirm, Actor: buyer}); err != nil {
		return nil
	}
	if _, err := h.Orders.Claim(ctx, orderID, agent); err != nil {
		return nil
	}

	first, err := h.Handoffs.IssueCode(ctx, handoff.IssueParams{OrderID: orderID, Stage: handoff.StageSellerPickup, Actor: seller})
	if err != nil {
		return nil
	}
	if _, err := h.Handoffs.IssueCode(ctx, handoff.IssueParams{OrderID: orderID, Stage: handoff.StageSellerPickup, Actor: seller}); err != nil {
		return nil
	}

	_, err = h.Handoffs.Verify(ctx, handoff.VerifyParams{OrderID: orderID, Stage: handoff.StageSellerPickup, Value: first.Value, Actor: agent})
	if err == nil {
		return fmt.Errorf("superseded code %s on order %s still verified", first.Value, orderID)
	}
	return nil
}
