package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			// Every recorded status change must be an edge of the legal
			// transition table.
			Name: "O1_history_legal_edges",
			SQL: `SELECT h.id, h.order_id, h.old_status, h.new_status
                  FROM order_status_history h
                  WHERE (h.old_status, h.new_status) NOT IN (VALUES
                      ('PENDING_CONFIRMATION','CONFIRMED'),
                      ('PENDING_CONFIRMATION','CANCELLED'),
                      ('CONFIRMED','CANCELLED'),
                      ('ASSIGNED','CANCELLED'),
                      ('AGENT_EN_ROUTE_TO_SELLER','CANCELLED'),
                      ('CONFIRMED','ASSIGNED'),
                      ('ASSIGNED','AGENT_EN_ROUTE_TO_SELLER'),
                      ('AGENT_EN_ROUTE_TO_SELLER','PICKED_FROM_SELLER'),
                      ('PICKED_FROM_SELLER','EN_ROUTE_TO_BUYER'),
                      ('PICKED_FROM_SELLER','AT_PICKUP_SITE'),
                      ('AT_PICKUP_SITE','PSM_RECEIVED'),
                      ('PSM_RECEIVED','EN_ROUTE_TO_BUYER'),
                      ('EN_ROUTE_TO_BUYER','DELIVERED'),
                      ('EN_ROUTE_TO_BUYER','REJECTED'),
                      ('REJECTED','RETURNED'),
                      ('REJECTED','REFUNDED'),
                      ('RETURNED','REFUNDED'))`,
		},
		{
			// At most one active confirmation code per order and stage.
			Name: "O2_single_active_code",
			SQL: `SELECT order_id, stage, COUNT(*) FROM confirmation_codes
                  WHERE status = 'active'
                  GROUP BY order_id, stage HAVING COUNT(*) > 1`,
		},
		{
			// A used code always records who consumed it.
			Name: "O3_used_code_attribution",
			SQL: `SELECT id, order_id, stage FROM confirmation_codes
                  WHERE status = 'used' AND (used_by IS NULL OR used_at IS NULL)`,
		},
		{
			// Approved payouts never exceed the order total.
			Name: "O4_approved_sum_cap",
			SQL: `SELECT r.order_id, SUM(r.amount) AS approved, o.total_amount
                  FROM payout_requests r
                  JOIN orders o ON o.id = r.order_id
                  WHERE r.status = 'approved'
                  GROUP BY r.order_id, o.total_amount
                  HAVING SUM(r.amount) > o.total_amount`,
		},
		{
			// One live request per order and category; retries must not duplicate.
			Name: "O5_live_request_dupes",
			SQL: `SELECT order_id, approval_type, COUNT(*) FROM payout_requests
                  WHERE status IN ('pending', 'approved')
                  GROUP BY order_id, approval_type HAVING COUNT(*) > 1`,
		},
		{
			// A delivered order always has its seller payout and agent
			// commission proposed.
			Name: "O6_delivered_requests_exist",
			SQL: `SELECT o.id FROM orders o
                  WHERE o.status = 'DELIVERED'
                    AND (NOT EXISTS (SELECT 1 FROM payout_requests r
                                     WHERE r.order_id = o.id AND r.approval_type = 'SELLER_PAYOUT')
                      OR NOT EXISTS (SELECT 1 FROM payout_requests r
                                     WHERE r.order_id = o.id AND r.approval_type = 'AGENT_COMMISSION'))`,
		},
		{
			Name: "O7_wallet_nonnegative",
			SQL:  `SELECT user_id, balance FROM wallets WHERE balance < 0`,
		},
		{
			// A wallet balance is always the sum of its ledger entries.
			Name: "O8_wallet_entries_consistent",
			SQL: `SELECT w.user_id, w.balance, COALESCE(SUM(e.amount), 0) AS entry_sum
                  FROM wallets w
                  LEFT JOIN wallet_entries e ON e.wallet_user_id = w.user_id
                  GROUP BY w.user_id, w.balance
                  HAVING w.balance <> COALESCE(SUM(e.amount), 0)`,
		},
		{
			// A paid flag on the order implies an approved request of the
			// matching category.
			Name: "O9_paid_flag_backed_by_approval",
			SQL: `SELECT o.id FROM orders o
                  WHERE (o.seller_payout_status = 'paid'
                         AND NOT EXISTS (SELECT 1 FROM payout_requests r
                                         WHERE r.order_id = o.id
                                           AND r.approval_type = 'SELLER_PAYOUT'
                                           AND r.status = 'approved'))
                     OR (o.agent_commission_status = 'paid'
                         AND NOT EXISTS (SELECT 1 FROM payout_requests r
                                         WHERE r.order_id = o.id
                                           AND r.approval_type = 'AGENT_COMMISSION'
                                           AND r.status = 'approved'))`,
		},
		{
			// Rejected requests always carry reviewer notes.
			Name: "O10_reject_notes_required",
			SQL: `SELECT id FROM payout_requests
                  WHERE status = 'rejected' AND (review_notes IS NULL OR review_notes = '')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
