package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow/settlement"
)

// ErrRequestNotFound signals the payout request does not exist.
var ErrRequestNotFound = errors.New("approval: request not found")

const requestColumns = `
id, order_id, approval_type, beneficiary_id, requested_by, amount,
status, review_notes, decided_by, decided_at, created_at, updated_at`

// Repository is the data access layer for payout requests.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListFilter narrows the pending queue.
type ListFilter struct {
	OrderID  string
	Category settlement.Category
	Limit    int
}

// ListPending returns pending requests, oldest first.
func (r *Repository) ListPending(ctx context.Context, filter ListFilter) ([]settlement.PayoutRequest, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	query := `SELECT ` + requestColumns + ` FROM payout_requests WHERE status = 'pending'`
	args := []any{}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		query += fmt.Sprintf(" AND order_id = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND approval_type = $%d", len(args))
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	defer rows.Close()

	out := []settlement.PayoutRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("approval: scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("approval: iterate requests: %w", err)
	}
	return out, nil
}

// Get loads a request without locking.
func (r *Repository) Get(ctx context.Context, id string) (settlement.PayoutRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM payout_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.PayoutRequest{}, ErrRequestNotFound
		}
		return settlement.PayoutRequest{}, fmt.Errorf("approval: get request: %w", err)
	}
	return req, nil
}

// GetForUpdate locks the request row.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (settlement.PayoutRequest, error) {
	req, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.PayoutRequest{}, ErrRequestNotFound
		}
		return settlement.PayoutRequest{}, fmt.Errorf("approval: get request for update: %w", err)
	}
	return req, nil
}

// MarkDecided flips a pending request to its final status. The conditional
// WHERE makes double-decides visible as zero rows.
func (r *Repository) MarkDecided(ctx context.Context, tx pgx.Tx, id string, status settlement.RequestStatus, adminID, notes string) (settlement.PayoutRequest, error) {
	const query = `
		UPDATE payout_requests
		SET status = $2,
		    decided_by = $3,
		    review_notes = NULLIF($4, ''),
		    decided_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, id, status, adminID, notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settlement.PayoutRequest{}, ErrRequestNotPending
		}
		return settlement.PayoutRequest{}, fmt.Errorf("approval: mark decided: %w", err)
	}
	return req, nil
}

// SumApproved totals the already-released amounts for an order across all
// categories.
func (r *Repository) SumApproved(ctx context.Context, tx pgx.Tx, orderID string) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payout_requests
		WHERE order_id = $1 AND status = 'approved'
	`, orderID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("approval: sum approved: %w", err)
	}
	return sum, nil
}

func scanRequest(row pgx.Row) (settlement.PayoutRequest, error) {
	var req settlement.PayoutRequest
	return req, row.Scan(
		&req.ID,
		&req.OrderID,
		&req.ApprovalType,
		&req.BeneficiaryID,
		&req.RequestedBy,
		&req.Amount,
		&req.Status,
		&req.ReviewNotes,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
}
