package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlatformAccountID is the reserved wallet holding escrowed buyer funds.
// Payment-gateway webhooks (outside this core) credit it; the approval gate
// debits it.
const PlatformAccountID = "00000000-0000-0000-0000-000000000001"

// ErrInsufficientBalance signals a transfer would overdraw the source wallet.
var ErrInsufficientBalance = errors.New("wallet: insufficient balance")

// Wallet is one beneficiary balance. Balances only move together with an
// append-only wallet_entries row.
type Wallet struct {
	UserID    string
	Balance   int64
	UpdatedAt time.Time
}

// Entry is one append-only ledger line. Amount is signed.
type Entry struct {
	ID              int64
	WalletUserID    string
	OrderID         *string
	PayoutRequestID *string
	Amount          int64
	Reason          string
	CreatedAt       time.Time
}

// Repository provides balance reads and the transfer primitive.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the wallet, with a zero balance for users that never received
// funds.
func (r *Repository) Get(ctx context.Context, userID string) (Wallet, error) {
	w := Wallet{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{UserID: userID}, nil
		}
		return Wallet{}, fmt.Errorf("wallet: get: %w", err)
	}
	return w, nil
}

// BalanceForUpdate locks the wallet row and returns its balance. A missing
// wallet locks nothing and reads as zero.
func (r *Repository) BalanceForUpdate(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("wallet: balance for update: %w", err)
	}
	return balance, nil
}

// Transfer moves amount from one wallet to another inside the caller's
// transaction, appending a debit and a credit entry. The source must already
// be locked via BalanceForUpdate and hold at least amount.
func (r *Repository) Transfer(ctx context.Context, tx pgx.Tx, fromUserID, toUserID string, amount int64, orderID, payoutRequestID *string, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("wallet: transfer amount must be positive")
	}

	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
	`, fromUserID, amount)
	if err != nil {
		return fmt.Errorf("wallet: debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
	`, toUserID, amount); err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}

	for _, entry := range []struct {
		userID string
		amount int64
	}{
		{fromUserID, -amount},
		{toUserID, amount},
	} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_entries (wallet_user_id, order_id, payout_request_id, amount, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, entry.userID, orderID, payoutRequestID, entry.amount, reason); err != nil {
			return fmt.Errorf("wallet: append entry: %w", err)
		}
	}
	return nil
}

// Credit adds funds to a wallet with a ledger entry. Used by the payment
// collaborator when buyer funds land in escrow.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, userID string, amount int64, orderID *string, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("wallet: credit amount must be positive")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
	`, userID, amount); err != nil {
		return fmt.Errorf("wallet: credit: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_entries (wallet_user_id, order_id, amount, reason)
		VALUES ($1, $2, $3, $4)
	`, userID, orderID, amount, reason); err != nil {
		return fmt.Errorf("wallet: append credit entry: %w", err)
	}
	return nil
}

// Entries returns the ledger lines for a wallet, newest first.
func (r *Repository) Entries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_user_id, order_id, payout_request_id, amount, reason, created_at
		FROM wallet_entries
		WHERE wallet_user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.WalletUserID, &e.OrderID, &e.PayoutRequestID, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("wallet: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate entries: %w", err)
	}
	return out, nil
}
