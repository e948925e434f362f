package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow/auth"
)

const orderColumns = `
id, buyer_id, seller_id, assigned_agent_id, assigned_agent_role, delivery_method,
total_amount, referral_user_id, status, version,
seller_payout_status, agent_commission_status,
seller_payout_amount, agent_commission_amount, referral_amount,
created_at, updated_at`

// Repository is the data access layer for orders and their history.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID loads an order outside any transaction.
func (r *Repository) GetByID(ctx context.Context, id string) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get by id: %w", err)
	}
	return ord, nil
}

// GetForUpdate locks the order row for the remainder of the transaction.
// Every state-changing unit of work starts here, which serializes writers
// per order.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	ord, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get for update: %w", err)
	}
	return ord, nil
}

// UpdateStatus writes the new status, bumps the version, and fails when the
// row changed underneath the caller.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, expectedVersion int64) (Order, error) {
	const query = `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $3
		RETURNING ` + orderColumns

	ord, err := scanOrder(tx.QueryRow(ctx, query, id, next, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrVersionConflict
		}
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}
	return ord, nil
}

// Claim assigns the order to the agent if nobody else got there first.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, id, agentID string, role auth.Role) (Order, error) {
	const query = `
		UPDATE orders
		SET assigned_agent_id = $2,
		    assigned_agent_role = $3,
		    status = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND assigned_agent_id IS NULL AND status = $5
		RETURNING ` + orderColumns

	ord, err := scanOrder(tx.QueryRow(ctx, query, id, agentID, string(role), StatusAssigned, StatusConfirmed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrAlreadyClaimed
		}
		return Order{}, fmt.Errorf("order: claim: %w", err)
	}
	return ord, nil
}

// Reassign moves custody to another agent mid-chain (pickup-site handoff).
func (r *Repository) Reassign(ctx context.Context, tx pgx.Tx, id, agentID string, role auth.Role) error {
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET assigned_agent_id = $2,
		    assigned_agent_role = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, agentID, string(role))
	if err != nil {
		return fmt.Errorf("order: reassign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FreezeSplit records the seller and referral amounts computed when custody
// left the seller.
func (r *Repository) FreezeSplit(ctx context.Context, tx pgx.Tx, id string, seller, referral int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders
		SET seller_payout_amount = $2,
		    referral_amount = NULLIF($3, 0),
		    updated_at = now()
		WHERE id = $1
	`, id, seller, referral)
	if err != nil {
		return fmt.Errorf("order: freeze split: %w", err)
	}
	return nil
}

// SetAgentCommissionAmount records the commission computed at delivery time.
func (r *Repository) SetAgentCommissionAmount(ctx context.Context, tx pgx.Tx, id string, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET agent_commission_amount = $2, updated_at = now() WHERE id = $1
	`, id, amount)
	if err != nil {
		return fmt.Errorf("order: set agent commission amount: %w", err)
	}
	return nil
}

// SetPayoutStatus flips one payout-category status field.
func (r *Repository) SetPayoutStatus(ctx context.Context, tx pgx.Tx, id, column string, status PayoutStatus) error {
	var query string
	switch column {
	case "seller_payout_status":
		query = `UPDATE orders SET seller_payout_status = $2, updated_at = now() WHERE id = $1`
	case "agent_commission_status":
		query = `UPDATE orders SET agent_commission_status = $2, updated_at = now() WHERE id = $1`
	default:
		return fmt.Errorf("order: unknown payout status column %q", column)
	}
	if _, err := tx.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("order: set payout status: %w", err)
	}
	return nil
}

// AppendHistory writes one audit row. The table is append-only.
func (r *Repository) AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, old_status, new_status, changed_by, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.OrderID, entry.OldStatus, entry.NewStatus, entry.ChangedBy, entry.Reason)
	if err != nil {
		return fmt.Errorf("order: append history: %w", err)
	}
	return nil
}

// History returns the audit trail for an order, oldest first.
func (r *Repository) History(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, old_status, new_status, changed_by, reason, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.OldStatus, &e.NewStatus, &e.ChangedBy, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("order: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate history: %w", err)
	}
	return entries, nil
}

// ListAvailable returns confirmed, unclaimed orders for one delivery method.
func (r *Repository) ListAvailable(ctx context.Context, method DeliveryMethod, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND assigned_agent_id IS NULL AND delivery_method = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, StatusConfirmed, method, limit)
	if err != nil {
		return nil, fmt.Errorf("order: list available: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan available: %w", err)
		}
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate available: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		ord       Order
		agentRole *string
	)
	err := row.Scan(
		&ord.ID,
		&ord.BuyerID,
		&ord.SellerID,
		&ord.AssignedAgentID,
		&agentRole,
		&ord.DeliveryMethod,
		&ord.TotalAmount,
		&ord.ReferralUserID,
		&ord.Status,
		&ord.Version,
		&ord.SellerPayoutStatus,
		&ord.AgentCommissionStatus,
		&ord.SellerPayoutAmount,
		&ord.AgentCommissionAmount,
		&ord.ReferralAmount,
		&ord.CreatedAt,
		&ord.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if agentRole != nil {
		role := auth.Role(*agentRole)
		ord.AgentRole = &role
	}
	return ord, nil
}
